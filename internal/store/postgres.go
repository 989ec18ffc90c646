// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package store owns the PostgreSQL connection and the schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DB is the query surface repositories need. *pgxpool.Pool and pgxmock
// pools both satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// ConnectConfig controls pool creation.
type ConnectConfig struct {
	URL string
	// Timeout bounds the whole connect-and-ping loop. Zero means 30s.
	Timeout  time.Duration
	MaxConns int32
}

// Connect opens a pool and pings until the database answers or the timeout
// elapses, backing off exponentially between attempts.
func Connect(ctx context.Context, cfg ConnectConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := retry.WithCappedDuration(5*time.Second, retry.NewExponential(250*time.Millisecond))

	var pool *pgxpool.Pool
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return oops.With("operation", "create pool").Wrap(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.WarnContext(ctx, "database not ready",
				"attempt", attempt,
				"host", poolCfg.ConnConfig.Host,
				"error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("attempts", attempt).
			With("host", poolCfg.ConnConfig.Host).
			Wrap(err)
	}

	logger.InfoContext(ctx, "database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"attempts", attempt)
	return pool, nil
}
