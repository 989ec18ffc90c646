// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// CodeMessage is handed to the Mailer for out-of-band delivery.
type CodeMessage struct {
	To        string
	Code      string
	Purpose   Purpose
	ExpiresAt time.Time
}

// Mailer delivers one-time codes.
type Mailer interface {
	SendCode(ctx context.Context, msg CodeMessage) error
}

// RequestLimiter bounds how often a key may be used. Allow returns a
// RATE_LIMITED error once the budget for the key is spent.
type RequestLimiter interface {
	Allow(ctx context.Context, key string) error
}

// allow consults limiter, which may be nil. RATE_LIMITED passes through;
// any other limiter failure is an outage and becomes AUTH_INTERNAL.
func allow(ctx context.Context, limiter RequestLimiter, key string) error {
	if limiter == nil {
		return nil
	}
	err := limiter.Allow(ctx, key)
	if err == nil || ErrorCode(err) == CodeRateLimited {
		return err //nolint:wrapcheck // nil or the limiter's public code
	}
	return internalError(CodeInternal, "rate limit", err)
}

// OTPConfig holds one-time code policy.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// OTPService issues and verifies one-time codes.
type OTPService struct {
	codes   OneTimeCodeRepository
	hasher  SecretHasher
	mailer  Mailer
	limiter RequestLimiter
	cfg     OTPConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewOTPService creates an OTPService. The limiter may be nil.
func NewOTPService(codes OneTimeCodeRepository, hasher SecretHasher, mailer Mailer, limiter RequestLimiter, cfg OTPConfig, opts ...Option) (*OTPService, error) {
	if codes == nil {
		return nil, oops.Errorf("one-time code repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("otp hasher is required")
	}
	if mailer == nil {
		return nil, oops.Errorf("mailer is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultOTPTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultOTPMaxAttempts
	}

	o := buildOptions(opts)
	return &OTPService{
		codes:   codes,
		hasher:  hasher,
		mailer:  mailer,
		limiter: limiter,
		cfg:     cfg,
		logger:  o.logger,
		now:     o.now,
	}, nil
}

// Issue generates a code for (target, purpose), replaces any older code for
// the same tuple and sends the raw code through the mailer.
func (s *OTPService) Issue(ctx context.Context, target string, purpose Purpose) error {
	target = NormalizeEmail(target)
	if !purpose.Valid() {
		return oops.Code(CodeOTPPurposeInvalid).With("purpose", purpose).Errorf("unknown purpose %q", purpose)
	}

	if err := allow(ctx, s.limiter, "otp:"+string(purpose)+":"+target); err != nil {
		return err
	}

	raw, err := GenerateOTPCode()
	if err != nil {
		return internalError(CodeInternal, "generate code", err)
	}
	hash, err := s.hasher.Hash(raw)
	if err != nil {
		return internalError(CodeInternal, "hash code", err)
	}

	expiresAt := s.now().Add(s.cfg.TTL)
	code, err := NewOneTimeCode(target, purpose, hash, s.cfg.MaxAttempts, expiresAt)
	if err != nil {
		return internalError(CodeInternal, "build code", err)
	}
	code.CreatedAt = s.now()

	if err := s.codes.Replace(ctx, code); err != nil {
		return internalError(CodeInternal, "store code", err)
	}

	msg := CodeMessage{To: target, Code: raw, Purpose: purpose, ExpiresAt: expiresAt}
	if err := s.mailer.SendCode(ctx, msg); err != nil {
		return internalError(CodeOTPDeliveryFailed, "send code", err)
	}

	s.logger.DebugContext(ctx, "one-time code issued",
		"purpose", string(purpose),
		"code_id", code.ID.String(),
		"expires_at", expiresAt)
	return nil
}

// Verify checks candidate against the newest live code for (target, purpose).
// A missing or expired code yields OTP_EXPIRED, an exhausted code yields
// OTP_ATTEMPTS_EXCEEDED without comparing, a mismatch yields OTP_INVALID, a
// match consumes the code. Every comparison is paid for with an attempt
// reserved before the hash check, so concurrent guesses cannot exceed
// MaxAttempts comparisons in total.
func (s *OTPService) Verify(ctx context.Context, target string, purpose Purpose, candidate string) error {
	target = NormalizeEmail(target)
	now := s.now()

	code, err := s.codes.GetLatest(ctx, target, purpose, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeOTPExpired).With("purpose", purpose).Errorf("code expired or not found")
		}
		return internalError(CodeInternal, "get latest code", err)
	}

	// GetLatest filters on expiry but a slow clock or a racing sweep can still
	// hand back a stale row.
	if code.IsExpiredAt(now) {
		return oops.Code(CodeOTPExpired).With("purpose", purpose).Errorf("code expired or not found")
	}

	if code.AttemptsExhausted() {
		return oops.Code(CodeOTPAttemptsExceeded).
			With("purpose", purpose).
			With("attempts", code.Attempts).
			Errorf("too many attempts")
	}

	attempts, err := s.codes.ReserveAttempt(ctx, code.ID)
	switch {
	case errors.Is(err, ErrAttemptsExhausted):
		return oops.Code(CodeOTPAttemptsExceeded).
			With("purpose", purpose).
			With("attempts", code.MaxAttempts).
			Errorf("too many attempts")
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeOTPExpired).With("purpose", purpose).Errorf("code expired or not found")
	case err != nil:
		return internalError(CodeInternal, "reserve attempt", err)
	}

	match, err := s.hasher.Verify(candidate, code.CodeHash)
	if err != nil {
		return internalError(CodeInternal, "verify code", err)
	}
	if !match {
		return oops.Code(CodeOTPInvalid).
			With("purpose", purpose).
			With("attempts", attempts).
			Errorf("invalid code")
	}

	if err := s.codes.Consume(ctx, code.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent verify consumed it first.
			return oops.Code(CodeOTPExpired).With("purpose", purpose).Errorf("code expired or not found")
		}
		return internalError(CodeInternal, "consume code", err)
	}
	return nil
}
