// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/authd-dev/authd/internal/auth"
)

// CodeRequestInvalid marks a malformed request body.
const CodeRequestInvalid = "REQUEST_INVALID"

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// publicMessages are the only texts clients see for these codes.
var publicMessages = map[string]string{
	auth.CodeInvalidCredentials:  "invalid credentials",
	auth.CodeAccountInactive:     "account is inactive",
	auth.CodeOTPExpired:          "code expired or not found",
	auth.CodeOTPInvalid:          "invalid code",
	auth.CodeOTPAttemptsExceeded: "too many attempts, request a new code",
	auth.CodeRefreshInvalid:      "invalid refresh token",
	auth.CodeRefreshNotFound:     "session not found",
	auth.CodeAccessInvalid:       "invalid access token",
	auth.CodeAccountExists:       "account already exists",
	auth.CodeRateLimited:         "too many requests",
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code string) int {
	switch {
	case auth.IsAuthFailure(code):
		return http.StatusUnauthorized
	case code == auth.CodeOTPAttemptsExceeded, code == auth.CodeRateLimited:
		return http.StatusTooManyRequests
	case code == auth.CodeAccountExists:
		return http.StatusConflict
	case code == auth.CodeAccountInvalid, code == auth.CodeOTPPurposeInvalid,
		code == auth.CodeEmptySecret, code == auth.CodeSecretTooLong, code == CodeRequestInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.ErrorCode(err)
	if code == "" {
		code = auth.CodeInternal
	}
	status := StatusFor(code)

	msg, ok := publicMessages[code]
	switch {
	case ok:
	case status == http.StatusBadRequest:
		msg = err.Error()
	default:
		msg = "internal error"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authd"`)
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFrom(r.Context()),
			"code", code)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck,errchkjson // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func slogLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
