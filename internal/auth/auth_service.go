// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/authd-dev/authd/pkg/errutil"
)

var tracer = otel.Tracer("github.com/authd-dev/authd/internal/auth")

// ServiceDeps are the collaborators of Service. Events, Observer and
// LoginLimiter are optional.
type ServiceDeps struct {
	Credentials  *CredentialStore
	OTP          *OTPService
	Issuer       *TokenIssuer
	Sessions     *SessionManager
	Events       EventPublisher
	Observer     OperationObserver
	LoginLimiter RequestLimiter
}

// Service is the entry point used by transports. Every method returns
// errors carrying one of the Code* constants.
type Service struct {
	deps   ServiceDeps
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(deps ServiceDeps, opts ...Option) (*Service, error) {
	if deps.Credentials == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if deps.OTP == nil {
		return nil, oops.Errorf("otp service is required")
	}
	if deps.Issuer == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Errorf("session manager is required")
	}

	o := buildOptions(opts)
	return &Service{deps: deps, logger: o.logger, now: o.now}, nil
}

// begin starts a span and returns a finisher that records the outcome.
func (s *Service) begin(ctx context.Context, operation string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "auth."+operation, trace.WithSpanKind(trace.SpanKindInternal))
	started := s.now()

	return ctx, func(errp *error) {
		result := "ok"
		if errp != nil && *errp != nil {
			code := ErrorCode(*errp)
			if !IsPublicCode(code) {
				*errp = internalError(CodeInternal, operation, *errp)
				code = CodeInternal
			}
			if code == CodeInternal || code == CodeIssuanceFailed || code == CodeOTPDeliveryFailed {
				errutil.LogErrorContext(ctx, s.logger, "auth operation failed", *errp)
			} else {
				s.logger.InfoContext(ctx, "auth operation rejected",
					"operation", operation,
					"code", code)
			}
			result = strings.ToLower(code)
			span.SetStatus(codes.Error, code)
		}
		span.SetAttributes(attribute.String("auth.result", result))
		span.End()
		if s.deps.Observer != nil {
			s.deps.Observer.ObserveOperation(operation, result, s.now().Sub(started))
		}
	}
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.deps.Events == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.deps.Events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			"type", string(event.Type),
			"error", err)
	}
}

// IssueForCredentials logs in with email and password.
func (s *Service) IssueForCredentials(ctx context.Context, email, password string, device Device) (pair *TokenPair, err error) {
	ctx, end := s.begin(ctx, "issue_for_credentials")
	defer end(&err)

	if err := allow(ctx, s.deps.LoginLimiter, "login:"+NormalizeEmail(email)); err != nil {
		return nil, err
	}

	account, err := s.deps.Credentials.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	pair, err = s.deps.Sessions.Issue(ctx, account, device)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Type: EventSessionIssued, AccountID: account.ID.String(), Email: account.Email, Role: account.Role})
	return pair, nil
}

// IssueForVerifiedRegistration completes a registration: it checks the
// register code for the draft's email, stores a verified account and issues
// the first pair.
func (s *Service) IssueForVerifiedRegistration(ctx context.Context, draft AccountDraft, code string, device Device) (pair *TokenPair, err error) {
	ctx, end := s.begin(ctx, "issue_for_verified_registration")
	defer end(&err)

	if err := draft.Validate(); err != nil {
		return nil, err
	}

	_, err = s.deps.Credentials.FindByEmail(ctx, draft.Email)
	switch {
	case err == nil:
		return nil, oops.Code(CodeAccountExists).With("email", draft.Email).Errorf("email already registered")
	case !errors.Is(err, ErrNotFound):
		return nil, internalError(CodeInternal, "get account by email", err)
	}

	if err := s.deps.OTP.Verify(ctx, draft.Email, PurposeRegister, code); err != nil {
		return nil, err
	}

	account, err := s.deps.Credentials.Create(ctx, draft, true)
	if err != nil {
		return nil, err
	}

	pair, err = s.deps.Sessions.Issue(ctx, account, device)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Type: EventAccountRegistered, AccountID: account.ID.String(), Email: account.Email, Role: account.Role})
	return pair, nil
}

// IssueForOTPLogin logs in with a login code instead of a password.
// A successful code also proves the email, so the account is marked verified.
func (s *Service) IssueForOTPLogin(ctx context.Context, email, code string, device Device) (pair *TokenPair, err error) {
	ctx, end := s.begin(ctx, "issue_for_otp_login")
	defer end(&err)

	email = NormalizeEmail(email)
	if err := s.deps.OTP.Verify(ctx, email, PurposeLogin, code); err != nil {
		return nil, err
	}

	account, err := s.deps.Credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeInvalidCredentials).Errorf("invalid email or code")
		}
		return nil, internalError(CodeInternal, "get account by email", err)
	}
	if !account.Active {
		return nil, oops.Code(CodeAccountInactive).With("account_id", account.ID.String()).Errorf("account is inactive")
	}
	if !account.Verified {
		if err := s.deps.Credentials.MarkVerified(ctx, account.ID); err != nil {
			return nil, err
		}
		account.Verified = true
	}

	pair, err = s.deps.Sessions.Issue(ctx, account, device)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Type: EventSessionIssued, AccountID: account.ID.String(), Email: account.Email, Role: account.Role})
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair.
func (s *Service) Rotate(ctx context.Context, raw string, device Device) (pair *TokenPair, err error) {
	ctx, end := s.begin(ctx, "rotate")
	defer end(&err)

	pair, account, err := s.deps.Sessions.Rotate(ctx, raw, device)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Type: EventSessionRotated, AccountID: account.ID.String(), Email: account.Email, Role: account.Role})
	return pair, nil
}

// RevokeAll logs the account out everywhere.
func (s *Service) RevokeAll(ctx context.Context, accountID ulid.ULID) (err error) {
	ctx, end := s.begin(ctx, "revoke_all")
	defer end(&err)

	n, err := s.deps.Sessions.RevokeAll(ctx, accountID, RevokedLogout)
	if err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "sessions revoked", "account_id", accountID.String(), "count", n)
	s.publish(ctx, Event{Type: EventSessionsRevoked, AccountID: accountID.String()})
	return nil
}

// RequestOTP issues a code for (target, purpose) and mails it.
// To avoid revealing which emails are registered, the call succeeds without
// sending when the purpose cannot apply: register for a known email, login
// or reset for an unknown or inactive one.
func (s *Service) RequestOTP(ctx context.Context, target string, purpose Purpose) (err error) {
	ctx, end := s.begin(ctx, "request_otp")
	defer end(&err)

	target = NormalizeEmail(target)
	if err := ValidateEmail(target); err != nil {
		return err
	}
	if !purpose.Valid() {
		return oops.Code(CodeOTPPurposeInvalid).With("purpose", purpose).Errorf("unknown purpose %q", purpose)
	}

	account, lookupErr := s.deps.Credentials.FindByEmail(ctx, target)
	exists := lookupErr == nil
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return internalError(CodeInternal, "get account by email", lookupErr)
	}

	switch purpose {
	case PurposeRegister:
		if !s.deps.Credentials.DomainAllowed(target) {
			return oops.Code(CodeAccountInvalid).With("email", target).Errorf("email domain is not allowed")
		}
		if exists {
			return nil
		}
	case PurposeLogin, PurposeResetPassword:
		if !exists || !account.Active {
			return nil
		}
	}

	if err := s.deps.OTP.Issue(ctx, target, purpose); err != nil {
		return err
	}

	event := Event{Type: EventOTPRequested, Email: target, Purpose: purpose}
	if exists {
		event.AccountID = account.ID.String()
	}
	s.publish(ctx, event)
	return nil
}

// VerifyOTP checks a code for (target, purpose) and consumes it on success.
func (s *Service) VerifyOTP(ctx context.Context, target string, purpose Purpose, code string) (err error) {
	ctx, end := s.begin(ctx, "verify_otp")
	defer end(&err)

	return s.deps.OTP.Verify(ctx, target, purpose, code)
}

// ResetPassword sets a new password using a reset code and revokes every
// session of the account.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) (err error) {
	ctx, end := s.begin(ctx, "reset_password")
	defer end(&err)

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	email = NormalizeEmail(email)
	if err := s.deps.OTP.Verify(ctx, email, PurposeResetPassword, code); err != nil {
		return err
	}

	account, err := s.deps.Credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeInvalidCredentials).Errorf("invalid email or code")
		}
		return internalError(CodeInternal, "get account by email", err)
	}

	if err := s.deps.Credentials.SetPassword(ctx, account.ID, newPassword); err != nil {
		return err
	}
	if _, err := s.deps.Sessions.RevokeAll(ctx, account.ID, RevokedPassword); err != nil {
		return err
	}

	s.publish(ctx, Event{Type: EventPasswordReset, AccountID: account.ID.String(), Email: account.Email})
	return nil
}

// Authenticate verifies an access token without touching storage.
func (s *Service) Authenticate(raw string) (*Claims, error) {
	return s.deps.Issuer.ParseAccess(raw)
}
