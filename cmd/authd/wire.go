// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
	authpg "github.com/authd-dev/authd/internal/auth/postgres"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/lock"
	"github.com/authd-dev/authd/internal/mailer"
	"github.com/authd-dev/authd/internal/store"
	"github.com/authd-dev/authd/internal/throttle"
)

// backends are the external collaborators serve connects before building
// the auth graph. Redis, Events and Observer may be nil.
type backends struct {
	DB       store.DB
	Redis    redis.UniversalClient
	Events   auth.EventPublisher
	Mailer   auth.Mailer
	Observer auth.OperationObserver
}

// timeoutLocker bounds how long a caller waits for an account lock.
type timeoutLocker struct {
	inner   auth.AccountLocker
	timeout time.Duration
}

func (l timeoutLocker) Lock(ctx context.Context, accountID ulid.ULID) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.inner.Lock(ctx, accountID) //nolint:wrapcheck // lockers return coded errors
}

// newMailer selects the delivery driver named by cfg.Driver.
func newMailer(cfg config.MailConfig, out io.Writer, logger *slog.Logger) (auth.Mailer, error) {
	from := mailer.Sender{Name: cfg.FromName, Email: cfg.From}
	switch cfg.Driver {
	case "", "log":
		return mailer.NewLogMailer(out, logger), nil
	case "smtp":
		m, err := mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			ImplicitTLS: cfg.SMTP.ImplicitTLS,
			From:        from,
		})
		if err != nil {
			return nil, err //nolint:wrapcheck // coded by mailer
		}
		return m, nil
	case "mailersend":
		m, err := mailer.NewMailerSendMailer(cfg.MailerSendAPIKey, from)
		if err != nil {
			return nil, err //nolint:wrapcheck // coded by mailer
		}
		return m, nil
	}
	return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown mail driver %q", cfg.Driver)
}

// buildService assembles the auth graph on top of b.
func buildService(cfg *config.Config, b backends, logger *slog.Logger) (*auth.Service, *auth.Janitor, error) {
	opts := []auth.Option{auth.WithLogger(logger)}
	a := cfg.Auth

	passwords, err := auth.NewBcryptHasher(a.PasswordCost)
	if err != nil {
		return nil, nil, oops.With("hasher", "password").Wrap(err)
	}
	codesHasher, err := auth.NewBcryptHasher(a.OTPCost)
	if err != nil {
		return nil, nil, oops.With("hasher", "otp").Wrap(err)
	}

	accounts := authpg.NewAccountRepository(b.DB)
	codes := authpg.NewOneTimeCodeRepository(b.DB)
	sessions := authpg.NewSessionRepository(b.DB)

	var (
		locker       auth.AccountLocker = auth.NewLockRegistry()
		otpLimiter   auth.RequestLimiter
		loginLimiter auth.RequestLimiter
	)
	if b.Redis != nil {
		rl, err := lock.NewRedisLocker(b.Redis, lock.Config{Lease: a.LockLease}, logger)
		if err != nil {
			return nil, nil, err //nolint:wrapcheck // coded by lock
		}
		locker = rl

		otp, err := throttle.New(b.Redis, throttle.Config{
			Prefix: "authd:throttle:otp",
			Limit:  a.OTPRequestLimit,
			Window: a.OTPRequestWindow,
		}, logger)
		if err != nil {
			return nil, nil, err //nolint:wrapcheck // coded by throttle
		}
		login, err := throttle.New(b.Redis, throttle.Config{
			Prefix: "authd:throttle:login",
			Limit:  a.LoginAttemptLimit,
			Window: a.LoginAttemptWindow,
		}, logger)
		if err != nil {
			return nil, nil, err //nolint:wrapcheck // coded by throttle
		}
		otpLimiter, loginLimiter = otp, login
	} else {
		logger.Warn("redis not configured: using in-process account locks and no rate limiting")
	}
	locker = timeoutLocker{inner: locker, timeout: a.LockTimeout}

	creds, err := auth.NewCredentialStore(accounts, passwords, a.AllowedEmailDomains, opts...)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // coded by auth
	}
	otpSvc, err := auth.NewOTPService(codes, codesHasher, b.Mailer, otpLimiter, auth.OTPConfig{
		TTL:         a.OTPTTL,
		MaxAttempts: a.OTPMaxAttempts,
	}, opts...)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // coded by auth
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer:        a.Issuer,
		AccessSecret:  []byte(a.AccessSecret),
		RefreshSecret: []byte(a.RefreshSecret),
		AccessTTL:     a.AccessTTL,
		RefreshTTL:    a.RefreshTTL,
	}, sessions, codesHasher, opts...)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // coded by auth
	}
	manager, err := auth.NewSessionManager(issuer, sessions, accounts, locker, opts...)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // coded by auth
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Credentials:  creds,
		OTP:          otpSvc,
		Issuer:       issuer,
		Sessions:     manager,
		Events:       b.Events,
		Observer:     b.Observer,
		LoginLimiter: loginLimiter,
	}, opts...)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // coded by auth
	}

	janitor, err := auth.NewJanitor(codes, sessions, cfg.Janitor.Interval, cfg.Janitor.Retention, opts...)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // coded by auth
	}
	return svc, janitor, nil
}
