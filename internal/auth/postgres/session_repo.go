// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/store"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db store.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db store.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Replace revokes the account's unrevoked sessions as superseded and inserts
// session, in one transaction.
func (r *SessionRepository) Replace(ctx context.Context, session *auth.Session) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin replace session").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
		}
	}()

	if _, err = tx.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2, revoked_reason = $3
		WHERE account_id = $1 AND revoked_at IS NULL
	`, session.AccountID.String(), session.CreatedAt, auth.RevokedSuperseded); err != nil {
		return oops.With("operation", "supersede sessions").
			With("account_id", session.AccountID.String()).
			Wrap(err)
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, account_id, token_hash, user_agent, ip_address, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.ID.String(),
		session.AccountID.String(),
		session.TokenHash,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.CreatedAt,
	); err != nil {
		return oops.With("operation", "insert session").
			With("account_id", session.AccountID.String()).
			Wrap(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit replace session").Wrap(err)
	}
	return nil
}

// GetLive returns the newest unrevoked, unexpired session of the account.
func (r *SessionRepository) GetLive(ctx context.Context, accountID ulid.ULID, now time.Time) (*auth.Session, error) {
	var (
		idStr, accStr string
		s             auth.Session
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, account_id, token_hash, user_agent, ip_address, expires_at, created_at
		FROM sessions
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID.String(), now).Scan(
		&idStr, &accStr, &s.TokenHash, &s.UserAgent, &s.IPAddress, &s.ExpiresAt, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get live session").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	if s.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if s.AccountID, err = ulid.Parse(accStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT_ID").With("account_id", accStr).Wrap(err)
	}
	return &s, nil
}

// Revoke marks one session revoked only if it is still unrevoked.
func (r *SessionRepository) Revoke(ctx context.Context, id ulid.ULID, reason string, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, id.String(), at, reason)
	if err != nil {
		return oops.With("operation", "revoke session").With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// RevokeAll marks every unrevoked session of the account revoked.
func (r *SessionRepository) RevokeAll(ctx context.Context, accountID ulid.ULID, reason string, at time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2, revoked_reason = $3
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID.String(), at, reason)
	if err != nil {
		return 0, oops.With("operation", "revoke all sessions").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions that expired or were revoked before the given time.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, before)
	if err != nil {
		return 0, oops.With("operation", "delete expired sessions").Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
