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

// OneTimeCodeRepository implements auth.OneTimeCodeRepository using PostgreSQL.
type OneTimeCodeRepository struct {
	db store.DB
}

// NewOneTimeCodeRepository creates a new OneTimeCodeRepository.
func NewOneTimeCodeRepository(db store.DB) *OneTimeCodeRepository {
	return &OneTimeCodeRepository{db: db}
}

// Replace deletes older codes for the same (target, purpose) and inserts
// code, in one transaction.
func (r *OneTimeCodeRepository) Replace(ctx context.Context, code *auth.OneTimeCode) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin replace code").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
		}
	}()

	if _, err = tx.Exec(ctx,
		`DELETE FROM one_time_codes WHERE target = $1 AND purpose = $2`,
		code.Target, string(code.Purpose)); err != nil {
		return oops.With("operation", "delete older codes").With("purpose", code.Purpose).Wrap(err)
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO one_time_codes (id, target, purpose, code_hash, attempts, max_attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		code.ID.String(),
		code.Target,
		string(code.Purpose),
		code.CodeHash,
		code.Attempts,
		code.MaxAttempts,
		code.ExpiresAt,
		code.CreatedAt,
	); err != nil {
		return oops.With("operation", "insert code").With("purpose", code.Purpose).Wrap(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit replace code").Wrap(err)
	}
	return nil
}

// GetLatest returns the newest unexpired code for (target, purpose).
func (r *OneTimeCodeRepository) GetLatest(ctx context.Context, target string, purpose auth.Purpose, now time.Time) (*auth.OneTimeCode, error) {
	var (
		idStr   string
		purpStr string
		c       auth.OneTimeCode
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, target, purpose, code_hash, attempts, max_attempts, expires_at, created_at
		FROM one_time_codes
		WHERE target = $1 AND purpose = $2 AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, target, string(purpose), now).Scan(
		&idStr, &c.Target, &purpStr, &c.CodeHash, &c.Attempts, &c.MaxAttempts, &c.ExpiresAt, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("OTP_NOT_FOUND").With("purpose", purpose).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get latest code").With("purpose", purpose).Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("OTP_INVALID_ID").With("id", idStr).Wrap(err)
	}
	c.ID = id
	c.Purpose = auth.Purpose(purpStr)
	return &c, nil
}

// ReserveAttempt bumps the attempt counter only while it is below
// max_attempts and returns the new value.
func (r *OneTimeCodeRepository) ReserveAttempt(ctx context.Context, id ulid.ULID) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE one_time_codes SET attempts = attempts + 1
		WHERE id = $1 AND attempts < max_attempts
		RETURNING attempts
	`, id.String()).Scan(&attempts)
	if err == nil {
		return attempts, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.With("operation", "reserve attempt").With("id", id.String()).Wrap(err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM one_time_codes WHERE id = $1)`,
		id.String()).Scan(&exists); err != nil {
		return 0, oops.With("operation", "check code exists").With("id", id.String()).Wrap(err)
	}
	if !exists {
		return 0, oops.Code("OTP_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return 0, oops.Code("OTP_ATTEMPTS_EXHAUSTED").With("id", id.String()).Wrap(auth.ErrAttemptsExhausted)
}

// Consume deletes the code. Only one of several concurrent callers succeeds.
func (r *OneTimeCodeRepository) Consume(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM one_time_codes WHERE id = $1`, id.String())
	if err != nil {
		return oops.With("operation", "consume code").With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("OTP_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes codes that expired before the given time.
func (r *OneTimeCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM one_time_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.With("operation", "delete expired codes").Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.OneTimeCodeRepository = (*OneTimeCodeRepository)(nil)
