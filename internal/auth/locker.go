// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AccountLocker serializes session mutations for one account.
type AccountLocker interface {
	// Lock blocks until the account's lock is held or ctx is done.
	// The returned func releases the lock and must be called exactly once.
	Lock(ctx context.Context, accountID ulid.ULID) (unlock func(), err error)
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// LockRegistry is an in-process AccountLocker. Entries exist only while some
// caller holds or waits for them, so memory is bounded by concurrency rather
// than by the number of accounts. Create one per process and pass it to the
// components that need it.
type LockRegistry struct {
	mu      sync.Mutex
	entries map[ulid.ULID]*lockEntry
}

// NewLockRegistry creates an empty LockRegistry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{entries: make(map[ulid.ULID]*lockEntry)}
}

func (r *LockRegistry) acquire(id ulid.ULID) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		r.entries[id] = e
	}
	e.refs++
	return e
}

func (r *LockRegistry) release(id ulid.ULID, e *lockEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, id)
	}
}

// Lock implements AccountLocker.
func (r *LockRegistry) Lock(ctx context.Context, accountID ulid.ULID) (func(), error) {
	e := r.acquire(accountID)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.release(accountID, e)
		return nil, oops.Code("LOCK_TIMEOUT").With("account_id", accountID.String()).Wrap(ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			r.release(accountID, e)
		})
	}, nil
}

// Len returns the number of accounts currently locked or awaited.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

var _ AccountLocker = (*LockRegistry)(nil)
