// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the fixed set of account roles embedded in access tokens.
type Role string

// Account roles.
const (
	RoleAdministrator Role = "administrator"
	RoleStaff         Role = "staff"
	RoleCustomer      Role = "customer"
	RoleCourier       Role = "courier"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleStaff, RoleCustomer, RoleCourier:
		return true
	}
	return false
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.Code(CodeAccountInvalid).With("role", s).Errorf("unknown role %q", s)
	}
	return r, nil
}

// Account field constraints.
const (
	MinPasswordLength = 8
	MaxPasswordLength = maxSecretLen
	MaxNameLength     = 100
	MaxEmailLength    = 254
)

// Account is the identity root.
type Account struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	Name         string
	Phone        *string
	Role         Role
	Active       bool
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountDraft carries the caller-supplied fields for a new account.
type AccountDraft struct {
	Email    string
	Password string
	Name     string
	Phone    *string
	Role     Role
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare, well-formed address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeAccountInvalid).Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeAccountInvalid).
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeAccountInvalid).With("email", email).Errorf("email is not a valid address")
	}
	return nil
}

// ValidatePassword checks password length bounds.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeAccountInvalid).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code(CodeAccountInvalid).
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// Validate normalizes the draft in place and checks every field.
// An empty role defaults to RoleCustomer.
func (d *AccountDraft) Validate() error {
	d.Email = NormalizeEmail(d.Email)
	d.Name = strings.TrimSpace(d.Name)

	if err := ValidateEmail(d.Email); err != nil {
		return err
	}
	if err := ValidatePassword(d.Password); err != nil {
		return err
	}
	if d.Name == "" {
		return oops.Code(CodeAccountInvalid).Errorf("name cannot be empty")
	}
	if utf8.RuneCountInString(d.Name) > MaxNameLength {
		return oops.Code(CodeAccountInvalid).
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	if d.Phone != nil {
		phone := strings.TrimSpace(*d.Phone)
		if phone == "" {
			d.Phone = nil
		} else {
			d.Phone = &phone
		}
	}
	if d.Role == "" {
		d.Role = RoleCustomer
	}
	if !d.Role.Valid() {
		return oops.Code(CodeAccountInvalid).With("role", d.Role).Errorf("unknown role %q", d.Role)
	}
	return nil
}

// NewAccount builds an active Account from a validated draft and a password hash.
func NewAccount(draft AccountDraft, passwordHash string, verified bool) (*Account, error) {
	if passwordHash == "" {
		return nil, oops.Code(CodeAccountInvalid).Errorf("password hash cannot be empty")
	}
	if err := ValidateEmail(draft.Email); err != nil {
		return nil, err
	}
	if !draft.Role.Valid() {
		return nil, oops.Code(CodeAccountInvalid).With("role", draft.Role).Errorf("unknown role %q", draft.Role)
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        draft.Email,
		PasswordHash: passwordHash,
		Name:         draft.Name,
		Phone:        draft.Phone,
		Role:         draft.Role,
		Active:       true,
		Verified:     verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Returns an ACCOUNT_EXISTS error when the
	// email is already registered.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// MarkVerified sets the verified flag.
	MarkVerified(ctx context.Context, id ulid.ULID) error

	// UpdatePassword updates only the password hash for an account.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// SetActive activates or deactivates an account.
	SetActive(ctx context.Context, id ulid.ULID, active bool) error
}
