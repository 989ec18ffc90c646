// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package lock provides an auth.AccountLocker shared by every authd
// instance through Redis.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/pkg/errutil"
)

// releaseLua deletes the key only while it still holds our token, so an
// expired lease never releases a lock someone else acquired since.
var releaseLua = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var errHeld = errors.New("lock held")

// Config tunes a RedisLocker.
type Config struct {
	Prefix string
	// Lease bounds how long a crashed holder blocks others. Leases are not
	// renewed: a holder that runs past its lease loses exclusion, so Lease
	// must exceed the caller's wait timeout plus its longest critical section.
	Lease time.Duration
	// Poll is the wait between acquisition attempts.
	Poll time.Duration
}

// RedisLocker implements auth.AccountLocker with SET NX PX leases.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker. Zero Lease and Poll default to 10s
// and 25ms.
func NewRedisLocker(client redis.UniversalClient, cfg Config, logger *slog.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("redis client is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "authd:lock"
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 25 * time.Millisecond
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}, nil
}

// Lock implements auth.AccountLocker.
func (l *RedisLocker) Lock(ctx context.Context, accountID ulid.ULID) (func(), error) {
	key := l.cfg.Prefix + ":" + accountID.String()
	token := uuid.NewString()

	err := retry.Do(ctx, retry.NewConstant(l.cfg.Poll), func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.Lease).Result()
		if err != nil {
			return oops.Code("LOCK_UNAVAILABLE").With("account_id", accountID.String()).Wrap(err)
		}
		if !ok {
			return retry.RetryableError(errHeld)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, oops.Code("LOCK_TIMEOUT").With("account_id", accountID.String()).Wrap(ctx.Err())
		}
		return nil, err //nolint:wrapcheck // already coded
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := releaseLua.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				errutil.LogErrorContext(releaseCtx, l.logger, "lock release failed",
					oops.With("account_id", accountID.String()).Wrap(err))
			}
		})
	}, nil
}

var _ auth.AccountLocker = (*RedisLocker)(nil)
