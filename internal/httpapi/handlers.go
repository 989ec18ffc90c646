// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

type otpRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type otpVerifyRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Phone    *string `json:"phone,omitempty"`
	Role     string  `json:"role,omitempty"`
	Code     string  `json:"code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type meResponse struct {
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// selfServiceRoles are the roles a caller may pick at registration.
var selfServiceRoles = map[auth.Role]bool{
	auth.RoleCustomer: true,
	auth.RoleCourier:  true,
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return oops.Code(CodeRequestInvalid).Wrapf(err, "malformed request body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return oops.Code(CodeRequestInvalid).Errorf("request body must contain a single JSON object")
	}
	return nil
}

func deviceFrom(r *http.Request) auth.Device {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return auth.Device{UserAgent: r.UserAgent(), IPAddress: ip}
}

func (h *handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	purpose, err := auth.ParsePurpose(req.Purpose)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.RequestOTP(r.Context(), req.Email, purpose); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	purpose, err := auth.ParsePurpose(req.Purpose)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.VerifyOTP(r.Context(), req.Email, purpose, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := auth.AccountDraft{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Role:     auth.RoleCustomer,
	}
	if req.Role != "" {
		role, err := auth.ParseRole(req.Role)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if !selfServiceRoles[role] {
			h.writeError(w, r, oops.Code(auth.CodeAccountInvalid).
				With("role", role).
				Errorf("role %q cannot be self-assigned", role))
			return
		}
		draft.Role = role
	}

	pair, err := h.svc.IssueForVerifiedRegistration(r.Context(), draft, req.Code, deviceFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writePair(w, http.StatusCreated, pair)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	pair, err := h.svc.IssueForCredentials(r.Context(), req.Email, req.Password, deviceFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writePair(w, http.StatusOK, pair)
}

func (h *handler) loginOTP(w http.ResponseWriter, r *http.Request) {
	var req otpLoginRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	pair, err := h.svc.IssueForOTPLogin(r.Context(), req.Email, req.Code, deviceFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writePair(w, http.StatusOK, pair)
}

// refresh accepts the token from the body or, failing that, the cookie.
func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decode(r, w, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		h.writeError(w, r, oops.Code(auth.CodeRefreshInvalid).Errorf("missing refresh token"))
		return
	}

	pair, err := h.svc.Rotate(r.Context(), raw, deviceFrom(r))
	if err != nil {
		if auth.IsAuthFailure(auth.ErrorCode(err)) {
			h.clearRefreshCookie(w)
		}
		h.writeError(w, r, err)
		return
	}
	h.writePair(w, http.StatusOK, pair)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	if err := h.svc.RevokeAll(r.Context(), claims.Account()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	resp := meResponse{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) writePair(w http.ResponseWriter, status int, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/v1",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, status, pair)
}

func (h *handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/v1",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
