// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package throttle implements auth.RequestLimiter with fixed-window
// counters in Redis.
package throttle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/pkg/errutil"
)

// Config bounds one class of requests.
type Config struct {
	// Prefix namespaces the counters, e.g. "authd:otp".
	Prefix string
	// Limit is the number of requests allowed per Window.
	Limit int
	Window time.Duration
	// FailOpen admits requests when Redis is unreachable.
	FailOpen bool
}

// Limiter counts requests per key in a fixed window.
type Limiter struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
}

// New creates a Limiter. A nil logger discards output.
func New(client redis.UniversalClient, cfg Config, logger *slog.Logger) (*Limiter, error) {
	if client == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("redis client is required")
	}
	if cfg.Limit < 1 {
		return nil, oops.Code("CONFIG_INVALID").With("limit", cfg.Limit).Errorf("limit must be at least 1")
	}
	if cfg.Window <= 0 {
		return nil, oops.Code("CONFIG_INVALID").With("window", cfg.Window).Errorf("window must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Limiter{client: client, cfg: cfg, logger: logger}, nil
}

func (l *Limiter) key(k string) string {
	if l.cfg.Prefix == "" {
		return k
	}
	return l.cfg.Prefix + ":" + k
}

// Allow implements auth.RequestLimiter.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	count, err := l.increment(ctx, l.key(key))
	if err != nil {
		if l.cfg.FailOpen {
			errutil.LogErrorContext(ctx, l.logger, "rate limiter unavailable, admitting request", err)
			return nil
		}
		return err
	}
	if count > int64(l.cfg.Limit) {
		return oops.Code(auth.CodeRateLimited).
			With("limit", l.cfg.Limit).
			With("window", l.cfg.Window.String()).
			Errorf("too many requests")
	}
	return nil
}

// Remaining reports how many requests key may still make in the current window.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := l.client.Get(ctx, l.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return l.cfg.Limit, nil
	}
	if err != nil {
		return 0, oops.Code("RATE_LIMITER_UNAVAILABLE").Wrap(err)
	}
	return max(l.cfg.Limit-int(count), 0), nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return oops.Code("RATE_LIMITER_UNAVAILABLE").Wrap(err)
	}
	return nil
}

func (l *Limiter) increment(ctx context.Context, key string) (int64, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, oops.Code("RATE_LIMITER_UNAVAILABLE").With("operation", "incr").Wrap(err)
	}
	// The window starts at the first hit. A counter left without a TTL by an
	// interrupted first hit is repaired on the next one.
	if count == 1 || l.client.TTL(ctx, key).Val() == -1 {
		if err := l.client.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			return 0, oops.Code("RATE_LIMITER_UNAVAILABLE").With("operation", "expire").Wrap(err)
		}
	}
	return count, nil
}

var _ auth.RequestLimiter = (*Limiter)(nil)
