// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Janitor defaults.
const (
	DefaultJanitorInterval  = 10 * time.Minute
	DefaultJanitorRetention = 30 * 24 * time.Hour
)

// Janitor periodically removes expired one-time codes and sessions that
// expired or were revoked longer ago than the retention window.
type Janitor struct {
	codes     OneTimeCodeRepository
	sessions  SessionRepository
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewJanitor creates a Janitor. Non-positive durations fall back to defaults.
func NewJanitor(codes OneTimeCodeRepository, sessions SessionRepository, interval, retention time.Duration, opts ...Option) (*Janitor, error) {
	if codes == nil {
		return nil, oops.Errorf("one-time code repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if retention < 0 {
		retention = DefaultJanitorRetention
	}

	o := buildOptions(opts)
	return &Janitor{
		codes:     codes,
		sessions:  sessions,
		interval:  interval,
		retention: retention,
		logger:    o.logger,
		now:       o.now,
	}, nil
}

// Sweep runs one cleanup pass.
func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now()

	codes, err := j.codes.DeleteExpired(ctx, now)
	if err != nil {
		return oops.Code("JANITOR_SWEEP_FAILED").With("table", "one_time_codes").Wrap(err)
	}
	sessions, err := j.sessions.DeleteExpired(ctx, now.Add(-j.retention))
	if err != nil {
		return oops.Code("JANITOR_SWEEP_FAILED").With("table", "sessions").Wrap(err)
	}

	if codes > 0 || sessions > 0 {
		j.logger.InfoContext(ctx, "janitor sweep",
			"codes_deleted", codes,
			"sessions_deleted", sessions)
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil {
				j.logger.WarnContext(ctx, "janitor sweep failed", "error", err)
			}
		}
	}
}
