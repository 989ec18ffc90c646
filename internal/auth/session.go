// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Revocation reasons recorded on session rows.
const (
	RevokedSuperseded = "superseded"
	RevokedRotated    = "rotated"
	RevokedLogout     = "logout"
	RevokedPassword   = "password_reset"
)

// Device is optional metadata about the client a session was issued to.
type Device struct {
	UserAgent string
	IPAddress string
}

// Session is the server-side record backing one refresh token.
type Session struct {
	ID            ulid.ULID
	AccountID     ulid.ULID
	TokenHash     string
	UserAgent     string
	IPAddress     string
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason string
	CreatedAt     time.Time
}

// NewSession creates a validated live Session.
// UserAgent and IPAddress are optional and may be empty.
func NewSession(accountID ulid.ULID, tokenHash string, device Device, expiresAt time.Time) (*Session, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &Session{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		UserAgent: device.UserAgent,
		IPAddress: device.IPAddress,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsLiveAt returns true if the session is neither revoked nor expired at t.
func (s *Session) IsLiveAt(t time.Time) bool {
	return s.RevokedAt == nil && t.Before(s.ExpiresAt)
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Replace revokes every live session of the account with reason
	// RevokedSuperseded and inserts the new session, in one transaction.
	Replace(ctx context.Context, session *Session) error

	// GetLive returns the newest session of the account that is unrevoked and
	// unexpired at now. Returns ErrNotFound if none exists.
	GetLive(ctx context.Context, accountID ulid.ULID, now time.Time) (*Session, error)

	// Revoke marks one session revoked if it is still unrevoked.
	// Returns ErrNotFound if the session does not exist or was already revoked.
	Revoke(ctx context.Context, id ulid.ULID, reason string, at time.Time) error

	// RevokeAll marks every unrevoked session of the account revoked and
	// returns how many were changed.
	RevokeAll(ctx context.Context, accountID ulid.ULID, reason string, at time.Time) (int64, error)

	// DeleteExpired removes sessions that expired or were revoked before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
