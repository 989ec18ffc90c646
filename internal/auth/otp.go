// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// One-time code policy defaults.
const (
	OTPDigits             = 6
	DefaultOTPTTL         = 10 * time.Minute
	DefaultOTPMaxAttempts = 5
)

var otpUpperBound = big.NewInt(1_000_000)

// Purpose scopes a one-time code to a single flow.
type Purpose string

// Code purposes.
const (
	PurposeRegister      Purpose = "register"
	PurposeLogin         Purpose = "login"
	PurposeResetPassword Purpose = "reset_password"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeRegister, PurposeLogin, PurposeResetPassword:
		return true
	}
	return false
}

// ParsePurpose converts a string to a Purpose. Both "reset_password" and
// "reset-password" are accepted.
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !p.Valid() {
		return "", oops.Code(CodeOTPPurposeInvalid).With("purpose", s).Errorf("unknown purpose %q", s)
	}
	return p, nil
}

// OneTimeCode is a hashed, expiring, attempt-limited verification code.
type OneTimeCode struct {
	ID          ulid.ULID
	Target      string
	Purpose     Purpose
	CodeHash    string
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// NewOneTimeCode creates a validated OneTimeCode with zero attempts.
func NewOneTimeCode(target string, purpose Purpose, codeHash string, maxAttempts int, expiresAt time.Time) (*OneTimeCode, error) {
	if target == "" {
		return nil, oops.Code("OTP_INVALID_TARGET").Errorf("target cannot be empty")
	}
	if !purpose.Valid() {
		return nil, oops.Code(CodeOTPPurposeInvalid).With("purpose", purpose).Errorf("unknown purpose %q", purpose)
	}
	if codeHash == "" {
		return nil, oops.Code("OTP_INVALID_HASH").Errorf("code hash cannot be empty")
	}
	if maxAttempts < 1 {
		return nil, oops.Code("OTP_INVALID_MAX_ATTEMPTS").With("max_attempts", maxAttempts).Errorf("max attempts must be positive")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("OTP_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &OneTimeCode{
		ID:          ulid.Make(),
		Target:      target,
		Purpose:     purpose,
		CodeHash:    codeHash,
		MaxAttempts: maxAttempts,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}, nil
}

// IsExpiredAt returns true if the code is expired at t.
func (c *OneTimeCode) IsExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// AttemptsExhausted returns true once the attempt ceiling is reached.
func (c *OneTimeCode) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// GenerateOTPCode returns a uniformly random zero-padded numeric code.
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpUpperBound)
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").
			With("operation", "crypto/rand.Int").
			Wrap(err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// OneTimeCodeRepository manages one-time code persistence.
type OneTimeCodeRepository interface {
	// Replace deletes every code for the code's (target, purpose) and stores
	// the new one in a single transaction.
	Replace(ctx context.Context, code *OneTimeCode) error

	// GetLatest returns the newest code for (target, purpose) that has not
	// expired at now. Returns ErrNotFound if none exists.
	GetLatest(ctx context.Context, target string, purpose Purpose, now time.Time) (*OneTimeCode, error)

	// ReserveAttempt atomically adds one to the attempt counter only while it
	// is below MaxAttempts and returns the new value. Returns
	// ErrAttemptsExhausted when no attempt is left and ErrNotFound when the
	// code is gone.
	ReserveAttempt(ctx context.Context, id ulid.ULID) (int, error)

	// Consume deletes a code. Returns ErrNotFound if it was already gone.
	Consume(ctx context.Context, id ulid.ULID) error

	// DeleteExpired removes codes that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
