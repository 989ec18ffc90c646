// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// Default bcrypt costs. Passwords are verified rarely and are long lived;
// one-time codes and refresh digests are verified often and expire quickly.
const (
	DefaultPasswordCost = 12
	DefaultOTPCost      = 6
)

// maxSecretLen is the bcrypt input limit.
const maxSecretLen = 72

const argon2idPrefix = "$argon2id$"

// ErrEmptySecret is returned when attempting to hash an empty secret.
var ErrEmptySecret = oops.Code(CodeEmptySecret).Errorf("secret cannot be empty")

// SecretHasher provides salted, adaptive one-way hashing.
type SecretHasher interface {
	// Hash produces a salted hash of the secret.
	Hash(secret string) (string, error)

	// Verify checks if the secret matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(secret, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash should be recomputed at the current cost.
	NeedsUpgrade(hash string) bool
}

// BcryptHasher implements SecretHasher using bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. The cost must lie within bcrypt's
// accepted range.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_COST").
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Cost returns the configured bcrypt cost.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt hash of the secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > maxSecretLen {
		return "", oops.Code(CodeSecretTooLong).
			With("length", len(secret)).
			Errorf("secret exceeds %d bytes", maxSecretLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// Verify checks if the secret matches the hash. Argon2id hashes imported from
// older systems are accepted.
func (h *BcryptHasher) Verify(secret, hash string) (bool, error) {
	if strings.HasPrefix(hash, argon2idPrefix) {
		match, err := argon2id.ComparePasswordAndHash(secret, hash)
		if err != nil {
			return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
		}
		return match, nil
	}

	if len(secret) > maxSecretLen {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
}

// NeedsUpgrade returns true for argon2id hashes and for bcrypt hashes below
// the configured cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	if strings.HasPrefix(hash, argon2idPrefix) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// TokenDigest returns the hex SHA-256 digest of a raw token. Refresh tokens
// exceed the bcrypt input limit, so the digest is what gets hashed.
func TokenDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
