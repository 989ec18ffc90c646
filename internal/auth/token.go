// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token defaults.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "authd"
	MinSecretLength   = 32
)

// TokenConfig holds signing secrets and lifetimes.
type TokenConfig struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenPair is handed to the client after a successful issuance.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenIssuer mints signed token pairs and records their sessions.
type TokenIssuer struct {
	cfg      TokenConfig
	sessions SessionRepository
	hasher   SecretHasher
	parser   *jwt.Parser
	logger   *slog.Logger
	now      func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. The hasher hashes refresh token
// digests and should use the low, OTP-grade cost.
func NewTokenIssuer(cfg TokenConfig, sessions SessionRepository, hasher SecretHasher, opts ...Option) (*TokenIssuer, error) {
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("token hasher is required")
	}
	if len(cfg.AccessSecret) < MinSecretLength || len(cfg.RefreshSecret) < MinSecretLength {
		return nil, oops.Code("CONFIG_INVALID").Errorf("token secrets must be at least %d bytes", MinSecretLength)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	o := buildOptions(opts)
	// Access and refresh tokens differ by secret and typ, not by parser policy.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithTimeFunc(o.now),
	)

	return &TokenIssuer{
		cfg:      cfg,
		sessions: sessions,
		hasher:   hasher,
		parser:   parser,
		logger:   o.logger,
		now:      o.now,
	}, nil
}

func (t *TokenIssuer) sign(account *Account, typ TokenType, issuedAt, expiresAt time.Time, secret []byte) (string, error) {
	claims := Claims{
		Version:   ClaimsVersion,
		Type:      typ,
		AccountID: account.ID.String(),
		Email:     account.Email,
		Role:      account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ulid.Make().String(),
		},
	}
	//nolint:wrapcheck // wrapped by caller with issuance code
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// IssuePair signs an access and a refresh token for the account and stores
// the refresh token's session, superseding any live session of the account.
// Nothing is returned unless the session write commits.
func (t *TokenIssuer) IssuePair(ctx context.Context, account *Account, device Device) (*TokenPair, error) {
	if account == nil {
		return nil, oops.Code(CodeIssuanceFailed).Errorf("account is required")
	}

	now := t.now()
	accessExp := now.Add(t.cfg.AccessTTL)
	refreshExp := now.Add(t.cfg.RefreshTTL)

	accessToken, err := t.sign(account, TokenAccess, now, accessExp, t.cfg.AccessSecret)
	if err != nil {
		return nil, internalError(CodeIssuanceFailed, "sign access token", err)
	}
	refreshToken, err := t.sign(account, TokenRefresh, now, refreshExp, t.cfg.RefreshSecret)
	if err != nil {
		return nil, internalError(CodeIssuanceFailed, "sign refresh token", err)
	}

	hash, err := t.hasher.Hash(TokenDigest(refreshToken))
	if err != nil {
		return nil, internalError(CodeIssuanceFailed, "hash refresh token", err)
	}

	session, err := NewSession(account.ID, hash, device, refreshExp)
	if err != nil {
		return nil, internalError(CodeIssuanceFailed, "build session", err)
	}
	session.CreatedAt = now

	if err := t.sessions.Replace(ctx, session); err != nil {
		return nil, internalError(CodeIssuanceFailed, "store session", err)
	}

	t.logger.DebugContext(ctx, "token pair issued",
		"account_id", account.ID.String(),
		"session_id", session.ID.String())

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func parse(parser *jwt.Parser, raw string, secret []byte, want TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	if !token.Valid {
		return nil, oops.Errorf("token is not valid")
	}
	if claims.Type != want {
		return nil, oops.With("typ", claims.Type).Errorf("expected %s token", want)
	}
	return claims, nil
}

// ParseAccess verifies an access token's signature, expiry and claims.
// It never touches storage.
func (t *TokenIssuer) ParseAccess(raw string) (*Claims, error) {
	claims, err := parse(t.parser, raw, t.cfg.AccessSecret, TokenAccess)
	if err != nil {
		return nil, oops.Code(CodeAccessInvalid).Wrap(err)
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token's signature, expiry and claims.
// It never touches storage.
func (t *TokenIssuer) ParseRefresh(raw string) (*Claims, error) {
	claims, err := parse(t.parser, raw, t.cfg.RefreshSecret, TokenRefresh)
	if err != nil {
		return nil, oops.Code(CodeRefreshInvalid).Wrap(err)
	}
	return claims, nil
}

// MatchRefresh reports whether raw is the token a session was issued for.
func (t *TokenIssuer) MatchRefresh(raw string, session *Session) (bool, error) {
	//nolint:wrapcheck // hasher errors carry codes
	return t.hasher.Verify(TokenDigest(raw), session.TokenHash)
}
