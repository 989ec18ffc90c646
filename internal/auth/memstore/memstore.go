// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package memstore provides in-memory auth repositories for tests and
// single-process development runs.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// AccountRepository is an in-memory auth.AccountRepository.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[ulid.ULID]auth.Account
}

// NewAccountRepository creates an empty AccountRepository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[ulid.ULID]auth.Account)}
}

// Create stores a new account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := auth.NormalizeEmail(account.Email)
	for _, a := range r.accounts {
		if a.Email == email {
			return oops.Code(auth.CodeAccountExists).With("email", email).Errorf("email already registered")
		}
	}
	stored := *account
	stored.Email = email
	r.accounts[account.ID] = stored
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &a, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = auth.NormalizeEmail(email)
	for _, a := range r.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
}

func (r *AccountRepository) update(id ulid.ULID, fn func(*auth.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	fn(&a)
	a.UpdatedAt = time.Now()
	r.accounts[id] = a
	return nil
}

// MarkVerified sets the verified flag.
func (r *AccountRepository) MarkVerified(_ context.Context, id ulid.ULID) error {
	return r.update(id, func(a *auth.Account) { a.Verified = true })
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(id, func(a *auth.Account) { a.PasswordHash = passwordHash })
}

// SetActive activates or deactivates an account.
func (r *AccountRepository) SetActive(_ context.Context, id ulid.ULID, active bool) error {
	return r.update(id, func(a *auth.Account) { a.Active = active })
}

// CodeRepository is an in-memory auth.OneTimeCodeRepository.
type CodeRepository struct {
	mu    sync.Mutex
	codes map[ulid.ULID]auth.OneTimeCode
}

// NewCodeRepository creates an empty CodeRepository.
func NewCodeRepository() *CodeRepository {
	return &CodeRepository{codes: make(map[ulid.ULID]auth.OneTimeCode)}
}

// Replace deletes codes for the tuple and stores the new code.
func (r *CodeRepository) Replace(_ context.Context, code *auth.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.codes {
		if c.Target == code.Target && c.Purpose == code.Purpose {
			delete(r.codes, id)
		}
	}
	r.codes[code.ID] = *code
	return nil
}

// GetLatest returns the newest unexpired code for the tuple.
func (r *CodeRepository) GetLatest(_ context.Context, target string, purpose auth.Purpose, now time.Time) (*auth.OneTimeCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *auth.OneTimeCode
	for _, c := range r.codes {
		if c.Target != target || c.Purpose != purpose || c.IsExpiredAt(now) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			found := c
			latest = &found
		}
	}
	if latest == nil {
		return nil, oops.Code("OTP_NOT_FOUND").With("purpose", purpose).Wrap(auth.ErrNotFound)
	}
	return latest, nil
}

// ReserveAttempt adds one to the attempt counter while attempts remain.
func (r *CodeRepository) ReserveAttempt(_ context.Context, id ulid.ULID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok {
		return 0, oops.Code("OTP_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if c.AttemptsExhausted() {
		return 0, oops.Code("OTP_ATTEMPTS_EXHAUSTED").With("id", id.String()).Wrap(auth.ErrAttemptsExhausted)
	}
	c.Attempts++
	r.codes[id] = c
	return c.Attempts, nil
}

// Consume deletes a code.
func (r *CodeRepository) Consume(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[id]; !ok {
		return oops.Code("OTP_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.codes, id)
	return nil
}

// DeleteExpired removes codes that expired before the given time.
func (r *CodeRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.codes {
		if c.ExpiresAt.Before(before) {
			delete(r.codes, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored codes.
func (r *CodeRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// SessionRepository is an in-memory auth.SessionRepository.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[ulid.ULID]auth.Session
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[ulid.ULID]auth.Session)}
}

// Replace supersedes the account's unrevoked sessions and stores the new one.
func (r *SessionRepository) Replace(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokeAllLocked(session.AccountID, auth.RevokedSuperseded, session.CreatedAt)
	r.sessions[session.ID] = *session
	return nil
}

// GetLive returns the newest live session of the account.
func (r *SessionRepository) GetLive(_ context.Context, accountID ulid.ULID, now time.Time) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var live *auth.Session
	for _, s := range r.sessions {
		if s.AccountID != accountID || !s.IsLiveAt(now) {
			continue
		}
		if live == nil || s.CreatedAt.After(live.CreatedAt) {
			found := s
			live = &found
		}
	}
	if live == nil {
		return nil, oops.Code("SESSION_NOT_FOUND").With("account_id", accountID.String()).Wrap(auth.ErrNotFound)
	}
	return live, nil
}

// Revoke marks one session revoked if it is still unrevoked.
func (r *SessionRepository) Revoke(_ context.Context, id ulid.ULID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil {
		return oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	s.RevokedAt = &at
	s.RevokedReason = reason
	r.sessions[id] = s
	return nil
}

// RevokeAll marks every unrevoked session of the account revoked.
func (r *SessionRepository) RevokeAll(_ context.Context, accountID ulid.ULID, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeAllLocked(accountID, reason, at), nil
}

func (r *SessionRepository) revokeAllLocked(accountID ulid.ULID, reason string, at time.Time) int64 {
	var n int64
	for id, s := range r.sessions {
		if s.AccountID != accountID || s.RevokedAt != nil {
			continue
		}
		revokedAt := at
		s.RevokedAt = &revokedAt
		s.RevokedReason = reason
		r.sessions[id] = s
		n++
	}
	return n
}

// DeleteExpired removes sessions that expired or were revoked before the given time.
func (r *SessionRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) || (s.RevokedAt != nil && s.RevokedAt.Before(before)) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// Sessions returns a snapshot of every stored session of the account.
func (r *SessionRepository) Sessions(accountID ulid.ULID) []auth.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.Session
	for _, s := range r.sessions {
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	return out
}

var (
	_ auth.AccountRepository     = (*AccountRepository)(nil)
	_ auth.OneTimeCodeRepository = (*CodeRepository)(nil)
	_ auth.SessionRepository     = (*SessionRepository)(nil)
)
