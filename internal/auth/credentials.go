// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummySecret is hashed once per store so that lookups for unknown emails
// spend the same bcrypt work as real verifications.
//
//nolint:gosec // G101: not a credential, never matches a stored account.
const dummySecret = "authd-timing-equalizer"

// CredentialStore owns account records and password verification.
type CredentialStore struct {
	accounts       AccountRepository
	hasher         SecretHasher
	dummyHash      string
	allowedDomains []glob.Glob
	logger         *slog.Logger
}

// NewCredentialStore creates a CredentialStore. allowedDomains holds glob
// patterns matched against the domain part of new emails; empty allows all.
func NewCredentialStore(accounts AccountRepository, hasher SecretHasher, allowedDomains []string, opts ...Option) (*CredentialStore, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}

	globs := make([]glob.Glob, 0, len(allowedDomains))
	for _, pattern := range allowedDomains {
		g, err := glob.Compile(strings.ToLower(strings.TrimSpace(pattern)), '.')
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("pattern", pattern).Wrap(err)
		}
		globs = append(globs, g)
	}

	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, oops.With("operation", "hash timing equalizer").Wrap(err)
	}

	o := buildOptions(opts)
	return &CredentialStore{
		accounts:       accounts,
		hasher:         hasher,
		dummyHash:      dummyHash,
		allowedDomains: globs,
		logger:         o.logger,
	}, nil
}

// FindByEmail looks up an account by normalized email.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	//nolint:wrapcheck // repository errors already carry codes
	return s.accounts.GetByEmail(ctx, NormalizeEmail(email))
}

// GetByID looks up an account by ID.
func (s *CredentialStore) GetByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	//nolint:wrapcheck // repository errors already carry codes
	return s.accounts.GetByID(ctx, id)
}

// DomainAllowed reports whether email's domain matches the allowlist.
func (s *CredentialStore) DomainAllowed(email string) bool {
	if len(s.allowedDomains) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, g := range s.allowedDomains {
		if g.Match(domain) {
			return true
		}
	}
	return false
}

// Create validates the draft, hashes its password and stores a new account.
func (s *CredentialStore) Create(ctx context.Context, draft AccountDraft, verified bool) (*Account, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if !s.DomainAllowed(draft.Email) {
		return nil, oops.Code(CodeAccountInvalid).
			With("email", draft.Email).
			Errorf("email domain is not allowed")
	}

	hash, err := s.hasher.Hash(draft.Password)
	if err != nil {
		return nil, internalError(CodeInternal, "hash password", err)
	}

	account, err := NewAccount(draft, hash, verified)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if ErrorCode(err) == CodeAccountExists {
			return nil, err
		}
		return nil, internalError(CodeInternal, "create account", err)
	}
	return account, nil
}

// VerifyPassword reports whether plaintext matches the account's password.
// Malformed stored hashes are logged and treated as a mismatch.
func (s *CredentialStore) VerifyPassword(account *Account, plaintext string) bool {
	ok, err := s.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		s.logger.Warn("stored password hash is malformed",
			"account_id", account.ID.String(),
			"error", err)
		return false
	}
	return ok
}

// MarkVerified sets the account's verified flag.
func (s *CredentialStore) MarkVerified(ctx context.Context, id ulid.ULID) error {
	if err := s.accounts.MarkVerified(ctx, id); err != nil {
		return internalError(CodeInternal, "mark verified", err)
	}
	return nil
}

// SetPassword validates and stores a new password.
func (s *CredentialStore) SetPassword(ctx context.Context, id ulid.ULID, plaintext string) error {
	if err := ValidatePassword(plaintext); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return internalError(CodeInternal, "hash password", err)
	}
	if err := s.accounts.UpdatePassword(ctx, id, hash); err != nil {
		return internalError(CodeInternal, "update password", err)
	}
	return nil
}

// SetActive activates or deactivates an account.
func (s *CredentialStore) SetActive(ctx context.Context, id ulid.ULID, active bool) error {
	if err := s.accounts.SetActive(ctx, id, active); err != nil {
		return internalError(CodeInternal, "set active", err)
	}
	return nil
}

// Authenticate checks an email and password pair.
// Unknown emails and wrong passwords return the same error after the same
// amount of hashing work. The inactive check runs only after the password
// matched, so it reveals nothing to a caller without the password.
func (s *CredentialStore) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, lookupErr := s.accounts.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := s.dummyHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, internalError(CodeInternal, "get account by email", lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if lookupErr != nil || verifyErr != nil || !valid {
		if verifyErr != nil && lookupErr == nil {
			s.logger.Warn("stored password hash is malformed",
				"account_id", account.ID.String(),
				"error", verifyErr)
		}
		return nil, oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
	}

	if !account.Active {
		return nil, oops.Code(CodeAccountInactive).
			With("account_id", account.ID.String()).
			Errorf("account is inactive")
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		if newHash, err := s.hasher.Hash(password); err == nil {
			if err := s.accounts.UpdatePassword(ctx, account.ID, newHash); err != nil {
				s.logger.Warn("password hash upgrade failed",
					"account_id", account.ID.String(),
					"error", err)
			} else {
				account.PasswordHash = newHash
			}
		}
	}

	return account, nil
}
