// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package httpapi exposes the auth service over HTTP/JSON.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oklog/ulid/v2"

	"github.com/authd-dev/authd/internal/auth"
)

// AuthService is the subset of *auth.Service the handlers call.
type AuthService interface {
	IssueForCredentials(ctx context.Context, email, password string, device auth.Device) (*auth.TokenPair, error)
	IssueForVerifiedRegistration(ctx context.Context, draft auth.AccountDraft, code string, device auth.Device) (*auth.TokenPair, error)
	IssueForOTPLogin(ctx context.Context, email, code string, device auth.Device) (*auth.TokenPair, error)
	Rotate(ctx context.Context, raw string, device auth.Device) (*auth.TokenPair, error)
	RevokeAll(ctx context.Context, accountID ulid.ULID) error
	RequestOTP(ctx context.Context, target string, purpose auth.Purpose) error
	VerifyOTP(ctx context.Context, target string, purpose auth.Purpose, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	Authenticate(raw string) (*auth.Claims, error)
}

// RequestObserver records HTTP responses by route pattern.
type RequestObserver interface {
	ObserveHTTP(route string, status int)
}

// Config configures the handler.
type Config struct {
	AllowedOrigins []string
	// SecureCookies marks the refresh cookie Secure. Disable only for local
	// development over plain HTTP.
	SecureCookies bool
}

// RefreshCookie is the name of the cookie carrying the refresh token.
const RefreshCookie = "refresh_token"

const maxBodyBytes = 64 << 10

type handler struct {
	svc      AuthService
	cfg      Config
	logger   *slog.Logger
	observer RequestObserver
	now      func() time.Time
}

// New returns the routed API. logger and observer may be nil.
func New(svc AuthService, cfg Config, logger *slog.Logger, observer RequestObserver) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, cfg: cfg, logger: logger, observer: observer, now: time.Now}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
			ExposedHeaders:   []string{RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/otp", h.requestOTP)
		r.Post("/otp/verify", h.verifyOTP)
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/login/otp", h.loginOTP)
		r.Post("/token/refresh", h.refresh)
		r.Post("/password/reset", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.requireBearer)
			r.Post("/logout", h.logout)
			r.Get("/me", h.me)
		})
	})

	return r
}
