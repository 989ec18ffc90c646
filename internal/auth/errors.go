// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAttemptsExhausted is returned when a one-time code has no attempts left.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// Error codes returned by the auth services. Callers switch on these via
// ErrorCode rather than on message text.
const (
	CodeInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	CodeAccountInactive     = "AUTH_ACCOUNT_INACTIVE"
	CodeOTPExpired          = "OTP_EXPIRED"
	CodeOTPInvalid          = "OTP_INVALID"
	CodeOTPAttemptsExceeded = "OTP_ATTEMPTS_EXCEEDED"
	CodeRefreshInvalid      = "REFRESH_TOKEN_INVALID"
	CodeRefreshNotFound     = "REFRESH_TOKEN_NOT_FOUND"
	CodeAccessInvalid       = "ACCESS_TOKEN_INVALID"
	CodeIssuanceFailed      = "TOKEN_ISSUANCE_FAILED"
	CodeInternal            = "AUTH_INTERNAL"
	CodeAccountExists       = "ACCOUNT_EXISTS"
	CodeAccountInvalid      = "ACCOUNT_INVALID"
	CodeRateLimited         = "RATE_LIMITED"
	CodeEmptySecret         = "AUTH_EMPTY_SECRET"
	CodeSecretTooLong       = "AUTH_SECRET_TOO_LONG"
	CodeOTPPurposeInvalid   = "OTP_PURPOSE_INVALID"
	CodeOTPDeliveryFailed   = "OTP_DELIVERY_FAILED"
)

// ErrorCode returns the oops code attached to err, or "" when err carries none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, ok := oopsErr.Code().(string)
	if !ok {
		return ""
	}
	return code
}

// IsAuthFailure reports whether code is an authentication failure the caller
// should answer with 401.
func IsAuthFailure(code string) bool {
	switch code {
	case CodeInvalidCredentials, CodeAccountInactive,
		CodeOTPExpired, CodeOTPInvalid,
		CodeRefreshInvalid, CodeRefreshNotFound, CodeAccessInvalid:
		return true
	}
	return false
}

// IsPublicCode reports whether code belongs to the taxonomy callers may see.
// Anything else is an internal detail and is collapsed before leaving Service.
func IsPublicCode(code string) bool {
	if IsAuthFailure(code) {
		return true
	}
	switch code {
	case CodeOTPAttemptsExceeded, CodeAccountExists, CodeAccountInvalid,
		CodeRateLimited, CodeEmptySecret, CodeSecretTooLong, CodeOTPPurposeInvalid,
		CodeInternal, CodeIssuanceFailed, CodeOTPDeliveryFailed:
		return true
	}
	return false
}

// opaqueError keeps errors.Is working through err while hiding its oops
// codes, so the code set by the wrapper is the one ErrorCode reports.
type opaqueError struct{ err error }

func (e opaqueError) Error() string        { return e.err.Error() }
func (e opaqueError) Is(target error) bool { return errors.Is(e.err, target) }

// internalError collapses a storage or library failure into a generic code.
// The cause stays attached for logging but the code hides which step failed.
func internalError(code, operation string, err error) error {
	b := oops.Code(code).With("operation", operation)
	if cause := ErrorCode(err); cause != "" {
		b = b.With("cause_code", cause)
	}
	return b.Wrap(opaqueError{err})
}
