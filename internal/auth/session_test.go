// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/pkg/errutil"
)

func TestNewSession(t *testing.T) {
	accountID := ulid.Make()
	expires := time.Now().Add(time.Hour)

	tests := []struct {
		name      string
		accountID ulid.ULID
		hash      string
		expiresAt time.Time
		wantCode  string
	}{
		{name: "valid", accountID: accountID, hash: "hash", expiresAt: expires},
		{name: "zero account", hash: "hash", expiresAt: expires, wantCode: "SESSION_INVALID_ACCOUNT"},
		{name: "empty hash", accountID: accountID, expiresAt: expires, wantCode: "SESSION_INVALID_HASH"},
		{name: "zero expiry", accountID: accountID, hash: "hash", wantCode: "SESSION_INVALID_EXPIRY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := auth.NewSession(tt.accountID, tt.hash, auth.Device{UserAgent: "ua", IPAddress: "127.0.0.1"}, tt.expiresAt)
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, ulid.ULID{}, s.ID)
			assert.Equal(t, "ua", s.UserAgent)
			assert.Equal(t, "127.0.0.1", s.IPAddress)
			assert.Nil(t, s.RevokedAt)
		})
	}
}

func TestSession_IsLiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	revokedAt := now.Add(-time.Minute)

	tests := []struct {
		name    string
		session auth.Session
		want    bool
	}{
		{name: "live", session: auth.Session{ExpiresAt: now.Add(time.Second)}, want: true},
		{name: "expires exactly now", session: auth.Session{ExpiresAt: now}, want: false},
		{name: "expired", session: auth.Session{ExpiresAt: now.Add(-time.Second)}, want: false},
		{name: "revoked", session: auth.Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.IsLiveAt(now))
		})
	}
}
