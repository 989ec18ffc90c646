// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/pkg/errutil"
)

func TestParseRole(t *testing.T) {
	role, err := auth.ParseRole(" Courier ")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleCourier, role)

	_, err = auth.ParseRole("superuser")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeAccountInvalid)
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{name: "plain", email: "alice@example.com"},
		{name: "subaddress", email: "alice+rides@example.com"},
		{name: "empty", email: "", wantErr: true},
		{name: "no at", email: "alice.example.com", wantErr: true},
		{name: "display name", email: "Alice <alice@example.com>", wantErr: true},
		{name: "too long", email: strings.Repeat("a", 250) + "@x.io", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateEmail(tt.email)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, auth.CodeAccountInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, auth.ValidatePassword("12345678"))
	assert.NoError(t, auth.ValidatePassword(strings.Repeat("p", 72)))
	assert.Error(t, auth.ValidatePassword("1234567"))
	assert.Error(t, auth.ValidatePassword(strings.Repeat("p", 73)))
}

func TestAccountDraft_Validate(t *testing.T) {
	t.Run("normalizes and defaults role", func(t *testing.T) {
		phone := "  "
		d := auth.AccountDraft{
			Email:    "  Alice@Example.COM ",
			Password: "correct horse",
			Name:     " Alice ",
			Phone:    &phone,
		}
		require.NoError(t, d.Validate())
		assert.Equal(t, "alice@example.com", d.Email)
		assert.Equal(t, "Alice", d.Name)
		assert.Nil(t, d.Phone)
		assert.Equal(t, auth.RoleCustomer, d.Role)
	})

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			name  string
			draft auth.AccountDraft
		}{
			{name: "bad email", draft: auth.AccountDraft{Email: "nope", Password: "correct horse", Name: "A"}},
			{name: "short password", draft: auth.AccountDraft{Email: "a@example.com", Password: "short", Name: "A"}},
			{name: "empty name", draft: auth.AccountDraft{Email: "a@example.com", Password: "correct horse", Name: "  "}},
			{name: "long name", draft: auth.AccountDraft{Email: "a@example.com", Password: "correct horse", Name: strings.Repeat("n", 101)}},
			{name: "unknown role", draft: auth.AccountDraft{Email: "a@example.com", Password: "correct horse", Name: "A", Role: "root"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.draft.Validate()
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, auth.CodeAccountInvalid)
			})
		}
	})
}

func TestNewAccount(t *testing.T) {
	draft := auth.AccountDraft{Email: "alice@example.com", Name: "Alice", Role: auth.RoleStaff}

	account, err := auth.NewAccount(draft, "$2a$04$hash", false)
	require.NoError(t, err)
	assert.True(t, account.Active)
	assert.False(t, account.Verified)
	assert.Equal(t, auth.RoleStaff, account.Role)
	assert.False(t, account.CreatedAt.IsZero())

	_, err = auth.NewAccount(draft, "", false)
	require.Error(t, err)
}
