// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/authd-dev/authd/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("OTP_EXPIRED").Errorf("no live code")
	errutil.AssertErrorCode(t, err, "OTP_EXPIRED")
}

func TestAssertErrorCode_DeepestCodeWins(t *testing.T) {
	inner := oops.Code("SESSION_NOT_FOUND").Errorf("missing")
	err := oops.With("operation", "rotate").Wrap(inner)
	errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("purpose", "login").Errorf("test error")
	errutil.AssertErrorContext(t, err, "purpose", "login")
}
