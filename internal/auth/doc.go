// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package auth issues, rotates and revokes login sessions and verifies
// one-time codes.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an active Account from a validated AccountDraft
//   - NewOneTimeCode - creates a OneTimeCode with zero attempts
//   - NewSession - creates a live Session for a refresh token hash
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Services
//
// Components, leaves first:
//   - BcryptHasher - salted adaptive hashing (separate password and OTP costs)
//   - OTPService - issues and verifies one-time codes
//   - CredentialStore - account records and password checks
//   - TokenIssuer - signs access/refresh JWTs and records the session
//   - SessionManager - rotation and revocation under a per-account lock
//   - Service - the facade used by transports
//
// # Policies
//
// One live session per account: every issuance revokes the account's other
// live sessions. One code per (target, purpose): issuing a code replaces any
// older one.
package auth
