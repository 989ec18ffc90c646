// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/auth/memstore"
	"github.com/authd-dev/authd/internal/auth/mocks"
	"github.com/authd-dev/authd/pkg/errutil"
)

func testAccount() *auth.Account {
	return &auth.Account{
		ID:       ulid.Make(),
		Email:    "alice@example.com",
		Role:     auth.RoleCustomer,
		Active:   true,
		Verified: true,
	}
}

func TestNewTokenIssuer(t *testing.T) {
	sessions := memstore.NewSessionRepository()
	hasher := mocks.NewMockSecretHasher(t)

	tests := []struct {
		name    string
		cfg     auth.TokenConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg:  auth.TokenConfig{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret},
		},
		{
			name:    "short access secret",
			cfg:     auth.TokenConfig{AccessSecret: []byte("short"), RefreshSecret: testRefreshSecret},
			wantErr: "at least 32 bytes",
		},
		{
			name:    "missing refresh secret",
			cfg:     auth.TokenConfig{AccessSecret: testAccessSecret},
			wantErr: "at least 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, err := auth.NewTokenIssuer(tt.cfg, sessions, hasher)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, issuer)
		})
	}

	_, err := auth.NewTokenIssuer(auth.TokenConfig{}, nil, hasher)
	assert.ErrorContains(t, err, "sessions repository is required")
	_, err = auth.NewTokenIssuer(auth.TokenConfig{}, sessions, nil)
	assert.ErrorContains(t, err, "token hasher is required")
}

func TestTokenIssuer_IssuePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.issuer.IssuePair(ctx, account, auth.Device{UserAgent: "curl/8", IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), pair.RefreshExpiresAt)

	t.Run("access claims", func(t *testing.T) {
		claims, err := f.issuer.ParseAccess(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, auth.ClaimsVersion, claims.Version)
		assert.Equal(t, auth.TokenAccess, claims.Type)
		assert.Equal(t, account.ID, claims.Account())
		assert.Equal(t, account.ID.String(), claims.Subject)
		assert.Equal(t, "alice@example.com", claims.Email)
		assert.Equal(t, auth.RoleCustomer, claims.Role)
		assert.Equal(t, auth.DefaultIssuer, claims.Issuer)
		assert.Equal(t, f.clock.Now().Unix(), claims.IssuedAt.Unix())
		assert.Equal(t, pair.AccessExpiresAt.Unix(), claims.ExpiresAt.Unix())
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("only the refresh digest hash is stored", func(t *testing.T) {
		sessions := f.sessions.Sessions(account.ID)
		require.Len(t, sessions, 1)
		s := sessions[0]
		assert.NotContains(t, s.TokenHash, pair.RefreshToken)
		assert.True(t, strings.HasPrefix(s.TokenHash, "$2"), "expected a bcrypt hash")
		assert.Equal(t, "curl/8", s.UserAgent)
		assert.Equal(t, "10.0.0.1", s.IPAddress)
		assert.Equal(t, pair.RefreshExpiresAt, s.ExpiresAt)

		ok, err := f.issuer.MatchRefresh(pair.RefreshToken, &s)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestTokenIssuer_ClaimWireShape(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.issuer.IssuePair(context.Background(), account, auth.Device{})
	require.NoError(t, err)

	want := []string{"accountId", "email", "exp", "iat", "iss", "jti", "role", "sub", "typ", "ver"}
	for name, raw := range map[string]string{"access": pair.AccessToken, "refresh": pair.RefreshToken} {
		t.Run(name, func(t *testing.T) {
			parts := strings.Split(raw, ".")
			require.Len(t, parts, 3)
			payload, err := base64.RawURLEncoding.DecodeString(parts[1])
			require.NoError(t, err)

			var claims map[string]any
			require.NoError(t, json.Unmarshal(payload, &claims))

			keys := make([]string, 0, len(claims))
			for k := range claims {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			assert.Equal(t, want, keys)
			assert.Equal(t, account.ID.String(), claims["accountId"])
			assert.Equal(t, "alice@example.com", claims["email"])
			assert.Equal(t, "customer", claims["role"])
		})
	}
}

func TestTokenIssuer_IssuePairSupersedesPriorSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	first, err := f.issuer.IssuePair(ctx, account, auth.Device{})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.issuer.IssuePair(ctx, account, auth.Device{})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	var live, superseded int
	for _, s := range f.sessions.Sessions(account.ID) {
		if s.IsLiveAt(f.clock.Now()) {
			live++
		} else if s.RevokedReason == auth.RevokedSuperseded {
			superseded++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, superseded)
}

func TestTokenIssuer_IssuePairStorageFailure(t *testing.T) {
	sessions := mocks.NewMockSessionRepository(t)
	hasher := mocks.NewMockSecretHasher(t)

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
	}, sessions, hasher, auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	hasher.On("Hash", mock.AnythingOfType("string")).Return("$2a$04$hash", nil)
	sessions.On("Replace", mock.Anything, mock.AnythingOfType("*auth.Session")).
		Return(errors.New("serialization failure"))

	pair, err := issuer.IssuePair(context.Background(), testAccount(), auth.Device{})
	require.Error(t, err)
	assert.Nil(t, pair, "no pair may escape when the session write fails")
	errutil.AssertErrorCode(t, err, auth.CodeIssuanceFailed)
}

func TestTokenIssuer_IssuePairHashFailure(t *testing.T) {
	sessions := mocks.NewMockSessionRepository(t)
	hasher := mocks.NewMockSecretHasher(t)

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
	}, sessions, hasher)
	require.NoError(t, err)

	hasher.On("Hash", mock.AnythingOfType("string")).Return("", errors.New("entropy exhausted"))

	pair, err := issuer.IssuePair(context.Background(), testAccount(), auth.Device{})
	require.Error(t, err)
	assert.Nil(t, pair)
	errutil.AssertErrorCode(t, err, auth.CodeIssuanceFailed)
	sessions.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything)
}

func TestTokenIssuer_ParseRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.issuer.IssuePair(ctx, account, auth.Device{})
	require.NoError(t, err)

	sign := func(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key any) string {
		t.Helper()
		raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return raw
	}
	validClaims := func(typ auth.TokenType) *auth.Claims {
		now := f.clock.Now()
		return &auth.Claims{
			Version:   auth.ClaimsVersion,
			Type:      typ,
			AccountID: account.ID.String(),
			Email:     account.Email,
			Role:      account.Role,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    auth.DefaultIssuer,
				Subject:   account.ID.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				ID:        ulid.Make().String(),
			},
		}
	}

	t.Run("refresh token is not an access token", func(t *testing.T) {
		_, err := f.issuer.ParseAccess(pair.RefreshToken)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAccessInvalid)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := f.issuer.ParseRefresh(pair.AccessToken)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeRefreshInvalid)
	})

	t.Run("access secret cannot sign refresh tokens", func(t *testing.T) {
		raw := sign(t, validClaims(auth.TokenRefresh), jwt.SigningMethodHS256, testAccessSecret)
		_, err := f.issuer.ParseRefresh(raw)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeRefreshInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.issuer.ParseRefresh("not-a-jwt")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeRefreshInvalid)
	})

	t.Run("unexpected algorithm", func(t *testing.T) {
		raw := sign(t, validClaims(auth.TokenAccess), jwt.SigningMethodHS512, testAccessSecret)
		_, err := f.issuer.ParseAccess(raw)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAccessInvalid)
	})

	t.Run("unknown claims version", func(t *testing.T) {
		claims := validClaims(auth.TokenAccess)
		claims.Version = 2
		_, err := f.issuer.ParseAccess(sign(t, claims, jwt.SigningMethodHS256, testAccessSecret))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAccessInvalid)
	})

	t.Run("subject mismatch", func(t *testing.T) {
		claims := validClaims(auth.TokenAccess)
		claims.Subject = ulid.Make().String()
		_, err := f.issuer.ParseAccess(sign(t, claims, jwt.SigningMethodHS256, testAccessSecret))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAccessInvalid)
	})

	t.Run("missing expiry", func(t *testing.T) {
		claims := validClaims(auth.TokenAccess)
		claims.ExpiresAt = nil
		_, err := f.issuer.ParseAccess(sign(t, claims, jwt.SigningMethodHS256, testAccessSecret))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAccessInvalid)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := validClaims(auth.TokenAccess)
		claims.Issuer = "someone-else"
		_, err := f.issuer.ParseAccess(sign(t, claims, jwt.SigningMethodHS256, testAccessSecret))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAccessInvalid)
	})
}

func TestTokenIssuer_AccessExpiry(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "alice@example.com", "correct horse")

	pair, err := f.issuer.IssuePair(context.Background(), account, auth.Device{})
	require.NoError(t, err)

	f.clock.Advance(14 * time.Minute)
	_, err = f.issuer.ParseAccess(pair.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(time.Minute + time.Second)
	_, err = f.issuer.ParseAccess(pair.AccessToken)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeAccessInvalid)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
