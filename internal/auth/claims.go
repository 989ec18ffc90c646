// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ClaimsVersion is stamped into every token. Tokens carrying any other
// version are rejected.
const ClaimsVersion = 1

// TokenType distinguishes access from refresh tokens.
type TokenType string

// Token types.
const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the fixed claim set carried by both access and refresh tokens.
// Collaborators decode the payload by these keys, so renaming a tag is a
// wire break.
type Claims struct {
	Version   int       `json:"ver"`
	Type      TokenType `json:"typ"`
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	jwt.RegisteredClaims
}

// Validate implements jwt.ClaimsValidator. It runs after the library has
// checked signature, expiry and issuer.
func (c *Claims) Validate() error {
	if c.Version != ClaimsVersion {
		return oops.With("ver", c.Version).Errorf("unsupported claims version")
	}
	if c.Type != TokenAccess && c.Type != TokenRefresh {
		return oops.With("typ", c.Type).Errorf("unknown token type")
	}
	if _, err := ulid.Parse(c.AccountID); err != nil {
		return oops.Wrapf(err, "invalid accountId")
	}
	if c.Subject != c.AccountID {
		return oops.Errorf("subject does not match accountId")
	}
	if c.Email == "" {
		return oops.Errorf("missing email")
	}
	if !c.Role.Valid() {
		return oops.With("role", c.Role).Errorf("unknown role")
	}
	if c.ID == "" {
		return oops.Errorf("missing jti")
	}
	return nil
}

// Account returns the parsed account ID. Only call on validated claims.
func (c *Claims) Account() ulid.ULID {
	id, _ := ulid.Parse(c.AccountID) //nolint:errcheck // validated in Validate
	return id
}

var _ jwt.ClaimsValidator = (*Claims)(nil)
