// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/pkg/errutil"
)

func TestLockRegistry_MutualExclusion(t *testing.T) {
	locks := auth.NewLockRegistry()
	id := ulid.Make()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), id)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Zero(t, locks.Len())
}

func TestLockRegistry_IndependentAccounts(t *testing.T) {
	locks := auth.NewLockRegistry()

	unlockA, err := locks.Lock(context.Background(), ulid.Make())
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, ulid.Make())
	require.NoError(t, err, "a different account must not block")
	unlockB()

	assert.Equal(t, 1, locks.Len())
}

func TestLockRegistry_ContextCancel(t *testing.T) {
	locks := auth.NewLockRegistry()
	id := ulid.Make()

	unlock, err := locks.Lock(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.Lock(ctx, id)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "LOCK_TIMEOUT")
	assert.ErrorIs(t, err, context.Canceled)

	unlock()
	assert.Zero(t, locks.Len())
}

func TestLockRegistry_UnlockIsIdempotent(t *testing.T) {
	locks := auth.NewLockRegistry()
	id := ulid.Make()

	unlock, err := locks.Lock(context.Background(), id)
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = locks.Lock(context.Background(), id)
	require.NoError(t, err)
	unlock()
	assert.Zero(t, locks.Len())
}
