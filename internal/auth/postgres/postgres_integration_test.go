// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/authd-dev/authd/internal/auth"
	authpg "github.com/authd-dev/authd/internal/auth/postgres"
	"github.com/authd-dev/authd/internal/store"
)

// testPool is the shared database pool for integration tests.
var testPool *pgxpool.Pool

// TestMain starts a PostgreSQL container and applies the schema.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("authd_test"),
		postgres.WithUsername("authd"),
		postgres.WithPassword("authd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to get connection string: " + err.Error())
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to create migrator: " + err.Error())
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		panic("failed to run migrations: " + err.Error())
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, store.ConnectConfig{URL: connStr, Timeout: 30 * time.Second}, nil)
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to create pool: " + err.Error())
	}
	testPool = pool

	code := m.Run()

	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func seedAccount(t *testing.T, email string) *auth.Account {
	t.Helper()
	account, err := auth.NewAccount(auth.AccountDraft{
		Email: email, Password: "correct horse battery", Name: "Seed", Role: auth.RoleCustomer,
	}, "hash", true)
	require.NoError(t, err)
	require.NoError(t, authpg.NewAccountRepository(testPool).Create(context.Background(), account))
	return account
}

func TestIntegration_AccountRepository(t *testing.T) {
	ctx := context.Background()
	repo := authpg.NewAccountRepository(testPool)
	account := seedAccount(t, "integration-account@example.com")

	got, err := repo.GetByEmail(ctx, "Integration-Account@Example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	dup := *account
	dup.ID = ulid.Make()
	err = repo.Create(ctx, &dup)
	assert.Equal(t, auth.CodeAccountExists, auth.ErrorCode(err))

	require.NoError(t, repo.SetActive(ctx, account.ID, false))
	got, err = repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = repo.GetByID(ctx, ulid.Make())
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestIntegration_OneTimeCodeRepository(t *testing.T) {
	ctx := context.Background()
	repo := authpg.NewOneTimeCodeRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	target := "integration-otp@example.com"

	first, err := auth.NewOneTimeCode(target, auth.PurposeLogin, "first", 5, now.Add(10*time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, first))

	second, err := auth.NewOneTimeCode(target, auth.PurposeLogin, "second", 5, now.Add(10*time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, second))

	latest, err := repo.GetLatest(ctx, target, auth.PurposeLogin, now)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	for want := 1; want <= 5; want++ {
		n, err := repo.ReserveAttempt(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	_, err = repo.ReserveAttempt(ctx, second.ID)
	assert.ErrorIs(t, err, auth.ErrAttemptsExhausted)

	require.NoError(t, repo.Consume(ctx, second.ID))
	assert.ErrorIs(t, repo.Consume(ctx, second.ID), auth.ErrNotFound)

	_, err = repo.GetLatest(ctx, target, auth.PurposeLogin, now)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestIntegration_SessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := authpg.NewSessionRepository(testPool)
	account := seedAccount(t, "integration-session@example.com")
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, err := auth.NewSession(account.ID, "h1", auth.Device{}, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, first))

	second, err := auth.NewSession(account.ID, "h2", auth.Device{UserAgent: "ua"}, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, second))

	live, err := repo.GetLive(ctx, account.ID, now)
	require.NoError(t, err)
	assert.Equal(t, second.ID, live.ID)

	assert.ErrorIs(t, repo.Revoke(ctx, first.ID, auth.RevokedRotated, now), auth.ErrNotFound,
		"superseded session is already revoked")
	require.NoError(t, repo.Revoke(ctx, second.ID, auth.RevokedRotated, now))

	n, err := repo.RevokeAll(ctx, account.ID, auth.RevokedLogout, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	removed, err := repo.DeleteExpired(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(2))
}
