// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/auth/mocks"
	"github.com/authd-dev/authd/pkg/errutil"
)

func TestJanitor_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	require.NoError(t, f.otp.Issue(ctx, "alice@example.com", auth.PurposeLogin))
	_, err := f.manager.Issue(ctx, account, auth.Device{})
	require.NoError(t, err)
	_, err = f.manager.RevokeAll(ctx, account.ID, auth.RevokedLogout)
	require.NoError(t, err)

	janitor, err := auth.NewJanitor(f.codes, f.sessions, time.Minute, time.Hour,
		auth.WithClock(f.clock.Now), auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, janitor.Sweep(ctx))
	assert.Equal(t, 1, f.codes.Len(), "live code survives")
	assert.Len(t, f.sessions.Sessions(account.ID), 1, "recently revoked session is retained")

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, janitor.Sweep(ctx))
	assert.Zero(t, f.codes.Len())
	assert.Empty(t, f.sessions.Sessions(account.ID))
}

func TestJanitor_SweepFailure(t *testing.T) {
	codes := mocks.NewMockOneTimeCodeRepository(t)
	sessions := mocks.NewMockSessionRepository(t)
	codes.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), errors.New("timeout"))

	janitor, err := auth.NewJanitor(codes, sessions, 0, -1)
	require.NoError(t, err)

	err = janitor.Sweep(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "JANITOR_SWEEP_FAILED")
	errutil.AssertErrorContext(t, err, "table", "one_time_codes")
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	codes := mocks.NewMockOneTimeCodeRepository(t)
	sessions := mocks.NewMockSessionRepository(t)
	swept := make(chan struct{}, 1)
	codes.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), nil).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		})
	sessions.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), nil)

	janitor, err := auth.NewJanitor(codes, sessions, 5*time.Millisecond, time.Hour,
		auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		janitor.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor never swept")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
