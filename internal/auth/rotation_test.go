// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/auth/mocks"
	"github.com/authd-dev/authd/pkg/errutil"
)

func TestNewSessionManager_NilDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := auth.NewSessionManager(nil, f.sessions, f.accounts, f.locks)
	assert.ErrorContains(t, err, "token issuer is required")
	_, err = auth.NewSessionManager(f.issuer, nil, f.accounts, f.locks)
	assert.ErrorContains(t, err, "sessions repository is required")
	_, err = auth.NewSessionManager(f.issuer, f.sessions, nil, f.locks)
	assert.ErrorContains(t, err, "accounts repository is required")
	_, err = auth.NewSessionManager(f.issuer, f.sessions, f.accounts, nil)
	assert.ErrorContains(t, err, "account locker is required")
}

func TestSessionManager_RotateScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	a1, err := f.manager.Issue(ctx, account, auth.Device{})
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	a2, rotated, err := f.manager.Rotate(ctx, a1.RefreshToken, auth.Device{})
	require.NoError(t, err)
	assert.Equal(t, account.ID, rotated.ID)
	assert.NotEqual(t, a1.AccessToken, a2.AccessToken)
	assert.NotEqual(t, a1.RefreshToken, a2.RefreshToken)

	_, _, err = f.manager.Rotate(ctx, a1.RefreshToken, auth.Device{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeRefreshInvalid)

	// The replay must not have disturbed the current pair.
	_, _, err = f.manager.Rotate(ctx, a2.RefreshToken, auth.Device{})
	require.NoError(t, err)
}

func TestSessionManager_RotateRecordsReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.manager.Issue(ctx, account, auth.Device{})
	require.NoError(t, err)
	_, _, err = f.manager.Rotate(ctx, pair.RefreshToken, auth.Device{})
	require.NoError(t, err)

	reasons := map[string]int{}
	for _, s := range f.sessions.Sessions(account.ID) {
		reasons[s.RevokedReason]++
	}
	assert.Equal(t, map[string]int{auth.RevokedRotated: 1, "": 1}, reasons)
}

func TestSessionManager_RevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.manager.Issue(ctx, account, auth.Device{})
	require.NoError(t, err)

	n, err := f.manager.RevokeAll(ctx, account.ID, auth.RevokedLogout)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, _, err = f.manager.Rotate(ctx, pair.RefreshToken, auth.Device{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeRefreshNotFound)

	n, err = f.manager.RevokeAll(ctx, account.ID, auth.RevokedLogout)
	require.NoError(t, err)
	assert.Zero(t, n, "revoking twice is a no-op")
}

func TestSessionManager_RotateExpiredRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.manager.Issue(ctx, account, auth.Device{})
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Second)

	_, _, err = f.manager.Rotate(ctx, pair.RefreshToken, auth.Device{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeRefreshInvalid)
}

func TestSessionManager_RotateInvalidTokenNeverTouchesStorage(t *testing.T) {
	f := newFixture(t)
	sessions := mocks.NewMockSessionRepository(t)
	accounts := mocks.NewMockAccountRepository(t)

	manager, err := auth.NewSessionManager(f.issuer, sessions, accounts, f.locks)
	require.NoError(t, err)

	_, _, err = manager.Rotate(context.Background(), "eyJhbGciOiJub25lIn0.e30.", auth.Device{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeRefreshInvalid)
	sessions.AssertNotCalled(t, "GetLive", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionManager_RotateInactiveAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.manager.Issue(ctx, account, auth.Device{})
	require.NoError(t, err)
	require.NoError(t, f.creds.SetActive(ctx, account.ID, false))

	_, _, err = f.manager.Rotate(ctx, pair.RefreshToken, auth.Device{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeAccountInactive)

	_, err = f.sessions.GetLive(ctx, account.ID, f.clock.Now())
	assert.ErrorIs(t, err, auth.ErrNotFound, "the presented session stays revoked")
}

func TestSessionManager_RotateLostRevokeRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := testAccount()

	hasher := mocks.NewMockSecretHasher(t)
	sessions := mocks.NewMockSessionRepository(t)
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
	}, sessions, hasher, auth.WithClock(f.clock.Now))
	require.NoError(t, err)

	hasher.On("Hash", mock.AnythingOfType("string")).Return("stored", nil).Once()
	sessions.On("Replace", ctx, mock.AnythingOfType("*auth.Session")).Return(nil).Once()
	pair, err := issuer.IssuePair(ctx, account, auth.Device{})
	require.NoError(t, err)

	live := &auth.Session{ID: ulid.Make(), AccountID: account.ID, TokenHash: "stored", ExpiresAt: f.clock.Now().Add(time.Hour)}
	sessions.On("GetLive", ctx, account.ID, f.clock.Now()).Return(live, nil)
	hasher.On("Verify", auth.TokenDigest(pair.RefreshToken), "stored").Return(true, nil)
	sessions.On("Revoke", ctx, live.ID, auth.RevokedRotated, f.clock.Now()).
		Return(oops.Wrap(auth.ErrNotFound))

	manager, err := auth.NewSessionManager(issuer, sessions, mocks.NewMockAccountRepository(t), f.locks,
		auth.WithClock(f.clock.Now))
	require.NoError(t, err)

	_, _, err = manager.Rotate(ctx, pair.RefreshToken, auth.Device{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeRefreshInvalid)
}

func TestSessionManager_ConcurrentRotationSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.manager.Issue(ctx, account, auth.Device{})
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		codes     []string
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := f.manager.Rotate(ctx, pair.RefreshToken, auth.Device{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			codes = append(codes, auth.ErrorCode(err))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, code := range codes {
		assert.Equal(t, auth.CodeRefreshInvalid, code)
	}
	assert.Zero(t, f.locks.Len(), "lock entries are released")
}

func TestSessionManager_LockTimeout(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "alice@example.com", "correct horse")

	unlock, err := f.locks.Lock(context.Background(), account.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = f.manager.RevokeAll(ctx, account.ID, auth.RevokedLogout)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeInternal)
	errutil.AssertErrorContext(t, err, "cause_code", "LOCK_TIMEOUT")
}

func TestSessionManager_AccountsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createAccount(t, "alice@example.com", "correct horse")
	bob := f.createAccount(t, "bob@example.com", "battery staple")

	alicePair, err := f.manager.Issue(ctx, alice, auth.Device{})
	require.NoError(t, err)
	_, err = f.manager.Issue(ctx, bob, auth.Device{})
	require.NoError(t, err)

	_, err = f.manager.RevokeAll(ctx, bob.ID, auth.RevokedLogout)
	require.NoError(t, err)

	_, _, err = f.manager.Rotate(ctx, alicePair.RefreshToken, auth.Device{})
	require.NoError(t, err, "revoking bob must not affect alice")
}
