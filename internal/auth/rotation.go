// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionManager rotates and revokes refresh-token sessions.
type SessionManager struct {
	issuer   *TokenIssuer
	sessions SessionRepository
	accounts AccountRepository
	locker   AccountLocker
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(issuer *TokenIssuer, sessions SessionRepository, accounts AccountRepository, locker AccountLocker, opts ...Option) (*SessionManager, error) {
	if issuer == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if locker == nil {
		return nil, oops.Errorf("account locker is required")
	}

	o := buildOptions(opts)
	return &SessionManager{
		issuer:   issuer,
		sessions: sessions,
		accounts: accounts,
		locker:   locker,
		logger:   o.logger,
		now:      o.now,
	}, nil
}

// Issue mints the first pair for an account under the account lock.
func (m *SessionManager) Issue(ctx context.Context, account *Account, device Device) (*TokenPair, error) {
	unlock, err := m.locker.Lock(ctx, account.ID)
	if err != nil {
		return nil, internalError(CodeIssuanceFailed, "lock account", err)
	}
	defer unlock()

	return m.issuer.IssuePair(ctx, account, device)
}

// Rotate exchanges a refresh token for a new pair.
//
// The presented token's session is revoked with a conditional write before
// the new pair is minted, and the whole exchange runs under the account lock.
// Of two concurrent rotations of the same token at most one succeeds. If the
// process dies between revoke and reissue the account is left with no live
// session.
func (m *SessionManager) Rotate(ctx context.Context, raw string, device Device) (*TokenPair, *Account, error) {
	claims, err := m.issuer.ParseRefresh(raw)
	if err != nil {
		return nil, nil, err
	}
	accountID := claims.Account()

	unlock, err := m.locker.Lock(ctx, accountID)
	if err != nil {
		return nil, nil, internalError(CodeInternal, "lock account", err)
	}
	defer unlock()

	session, err := m.sessions.GetLive(ctx, accountID, m.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, oops.Code(CodeRefreshNotFound).
				With("account_id", claims.AccountID).
				Errorf("no live session")
		}
		return nil, nil, internalError(CodeInternal, "get live session", err)
	}

	match, err := m.issuer.MatchRefresh(raw, session)
	if err != nil {
		return nil, nil, internalError(CodeInternal, "match refresh token", err)
	}
	if !match {
		return nil, nil, oops.Code(CodeRefreshInvalid).
			With("account_id", claims.AccountID).
			Errorf("refresh token does not match live session")
	}

	if err := m.sessions.Revoke(ctx, session.ID, RevokedRotated, m.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, oops.Code(CodeRefreshInvalid).
				With("session_id", session.ID.String()).
				Errorf("session already revoked")
		}
		return nil, nil, internalError(CodeInternal, "revoke session", err)
	}

	account, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, nil, internalError(CodeInternal, "get account", err)
	}
	if !account.Active {
		return nil, nil, oops.Code(CodeAccountInactive).
			With("account_id", claims.AccountID).
			Errorf("account is inactive")
	}

	pair, err := m.issuer.IssuePair(ctx, account, device)
	if err != nil {
		return nil, nil, err
	}
	return pair, account, nil
}

// RevokeAll revokes every live session of the account.
func (m *SessionManager) RevokeAll(ctx context.Context, accountID ulid.ULID, reason string) (int64, error) {
	unlock, err := m.locker.Lock(ctx, accountID)
	if err != nil {
		return 0, internalError(CodeInternal, "lock account", err)
	}
	defer unlock()

	n, err := m.sessions.RevokeAll(ctx, accountID, reason, m.now())
	if err != nil {
		return 0, internalError(CodeInternal, "revoke sessions", err)
	}
	return n, nil
}
