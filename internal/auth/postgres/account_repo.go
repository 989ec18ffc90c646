// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/store"
)

const accountColumns = `id, email, password_hash, name, phone, role, active, verified, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db store.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db store.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		account.Name,
		account.Phone,
		string(account.Role),
		account.Active,
		account.Verified,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code(auth.CodeAccountExists).
			With("email", account.Email).
			Errorf("email already registered")
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get account by id").With("id", id.String()).Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email, ignoring case.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get account by email").Wrap(err)
	}
	return account, nil
}

func (r *AccountRepository) update(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := r.db.Exec(ctx, sql, append([]any{id.String()}, args...)...)
	if err != nil {
		return oops.With("operation", operation).With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// MarkVerified sets the verified flag.
func (r *AccountRepository) MarkVerified(ctx context.Context, id ulid.ULID) error {
	return r.update(ctx, "mark account verified", id,
		`UPDATE accounts SET verified = TRUE, updated_at = NOW() WHERE id = $1`)
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(ctx, "update password", id,
		`UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`, passwordHash)
}

// SetActive activates or deactivates an account.
func (r *AccountRepository) SetActive(ctx context.Context, id ulid.ULID, active bool) error {
	return r.update(ctx, "set account active", id,
		`UPDATE accounts SET active = $2, updated_at = NOW() WHERE id = $1`, active)
}

// scanAccount propagates pgx.ErrNoRows unchanged for callers to handle.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr     string
		a         auth.Account
		role      string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&idStr, &a.Email, &a.PasswordHash, &a.Name, &a.Phone, &role,
		&a.Active, &a.Verified, &createdAt, &updatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	a.ID = id
	a.Role = auth.Role(role)
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return &a, nil
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
