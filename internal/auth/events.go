// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"time"
)

// EventType names an auth lifecycle event.
type EventType string

// Event types published by Service.
const (
	EventAccountRegistered EventType = "account.registered"
	EventPasswordReset     EventType = "account.password_reset"
	EventOTPRequested      EventType = "otp.requested"
	EventSessionIssued     EventType = "session.issued"
	EventSessionRotated    EventType = "session.rotated"
	EventSessionsRevoked   EventType = "session.revoked"
)

// Event is the payload published for other services. It never carries
// secrets.
type Event struct {
	Type       EventType `json:"type"`
	AccountID  string    `json:"account_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	Role       Role      `json:"role,omitempty"`
	Purpose    Purpose   `json:"purpose,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher delivers events. Delivery is best effort; failures are
// logged by the caller and never fail the operation.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// OperationObserver records the outcome and latency of facade operations.
type OperationObserver interface {
	ObserveOperation(operation, result string, elapsed time.Duration)
}
