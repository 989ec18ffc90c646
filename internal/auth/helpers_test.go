// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/auth/memstore"
)

var (
	testAccessSecret  = []byte(strings.Repeat("a", 32))
	testRefreshSecret = []byte(strings.Repeat("r", 32))
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureMailer struct {
	mu   sync.Mutex
	sent []auth.CodeMessage
}

func (m *captureMailer) SendCode(_ context.Context, msg auth.CodeMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) last(t *testing.T) auth.CodeMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "expected a code to have been mailed")
	return m.sent[len(m.sent)-1]
}

type fixture struct {
	clock    *testClock
	accounts *memstore.AccountRepository
	codes    *memstore.CodeRepository
	sessions *memstore.SessionRepository
	mailer   *captureMailer
	locks    *auth.LockRegistry
	creds    *auth.CredentialStore
	otp      *auth.OTPService
	issuer   *auth.TokenIssuer
	manager  *auth.SessionManager
	svc      *auth.Service
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    newTestClock(),
		accounts: memstore.NewAccountRepository(),
		codes:    memstore.NewCodeRepository(),
		sessions: memstore.NewSessionRepository(),
		mailer:   &captureMailer{},
		locks:    auth.NewLockRegistry(),
	}
	opts := []auth.Option{auth.WithClock(f.clock.Now), auth.WithLogger(discardLogger())}

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	f.creds, err = auth.NewCredentialStore(f.accounts, hasher, nil, opts...)
	require.NoError(t, err)

	f.otp, err = auth.NewOTPService(f.codes, hasher, f.mailer, nil, auth.OTPConfig{
		TTL:         10 * time.Minute,
		MaxAttempts: 5,
	}, opts...)
	require.NoError(t, err)

	f.issuer, err = auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, f.sessions, hasher, opts...)
	require.NoError(t, err)

	f.manager, err = auth.NewSessionManager(f.issuer, f.sessions, f.accounts, f.locks, opts...)
	require.NoError(t, err)

	f.svc, err = auth.NewService(auth.ServiceDeps{
		Credentials: f.creds,
		OTP:         f.otp,
		Issuer:      f.issuer,
		Sessions:    f.manager,
	}, opts...)
	require.NoError(t, err)

	return f
}

func (f *fixture) createAccount(t *testing.T, email, password string) *auth.Account {
	t.Helper()
	account, err := f.creds.Create(context.Background(), auth.AccountDraft{
		Email:    email,
		Password: password,
		Name:     "Test User",
	}, true)
	require.NoError(t, err)
	return account
}

// wrongCode returns a six digit code guaranteed to differ from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
