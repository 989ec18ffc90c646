// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/events"
	"github.com/authd-dev/authd/internal/httpapi"
	"github.com/authd-dev/authd/internal/logging"
	"github.com/authd-dev/authd/internal/observability"
	"github.com/authd-dev/authd/internal/store"
)

// Database is the pool handed to the repositories.
type Database interface {
	store.DB
	Close()
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, cfg store.ConnectConfig, logger *slog.Logger) (Database, error)

	// RedisFactory connects to Redis. Only called when redis.url is set.
	// Default: redis.ParseURL + redis.NewClient + Ping
	RedisFactory func(ctx context.Context, url string) (redis.UniversalClient, error)

	// NATSFactory connects to NATS. Only called when nats.url is set.
	// Default: events.Connect
	NATSFactory func(url string, logger *slog.Logger) (*nats.Conn, error)

	// MigratorFactory is used when database.auto_migrate is set.
	// Default: store.NewMigrator
	MigratorFactory MigratorFactory

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer

	// Listen binds the API listener.
	// Default: net.Listen
	Listen func(network, address string) (net.Listener, error)

	// LogOutput receives structured logs and, for the log mail driver,
	// delivered codes.
	// Default: the command's stderr
	LogOutput io.Writer
}

func (d *ServeDeps) setDefaults(cmd *cobra.Command) {
	if d.PoolFactory == nil {
		d.PoolFactory = func(ctx context.Context, cfg store.ConnectConfig, logger *slog.Logger) (Database, error) {
			pool, err := store.Connect(ctx, cfg, logger)
			if err != nil {
				return nil, err //nolint:wrapcheck // coded by store
			}
			return pool, nil
		}
	}
	if d.RedisFactory == nil {
		d.RedisFactory = connectRedis
	}
	if d.NATSFactory == nil {
		d.NATSFactory = func(url string, logger *slog.Logger) (*nats.Conn, error) {
			return events.Connect(url, "authd", logger) //nolint:wrapcheck // coded by events
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = defaultMigratorFactory
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	if d.Listen == nil {
		d.Listen = net.Listen
	}
	if d.LogOutput == nil {
		d.LogOutput = cmd.ErrOrStderr()
	}
}

func connectRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", "redis.url").Wrap(err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
	}
	return client, nil
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd(g *globalFlags) *cobra.Command {
	return newServeCmd(g, nil)
}

func newServeCmd(g *globalFlags, deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth API",
		Long: `Start the HTTP auth API, the metrics and health server, and the
background sweep of expired codes and sessions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, deps)
		},
	}

	cmd.Flags().String("http-addr", "", "API listen address")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address")
	cmd.Flags().String("log-format", "", "log format (json or text)")
	cmd.Flags().String("log-level", "", "minimum log level (debug, info, warn, error)")
	cmd.Flags().String("database-url", "", "PostgreSQL URL")
	cmd.Flags().Bool("auto-migrate", false, "apply pending migrations before serving")

	return cmd
}

// runServeWithDeps runs the server until ctx is done or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.setDefaults(cmd)

	if err := cfg.Validate(); err != nil {
		return err //nolint:wrapcheck // coded by config
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err //nolint:wrapcheck // coded by logging
	}
	logger := logging.SetupLevel("authd", version, cfg.Log.Format, level, deps.LogOutput)
	slog.SetDefault(logger)

	logger.Info("starting authd",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"mail_driver", cfg.Mail.Driver,
		"redis", cfg.Redis.URL != "",
		"nats", cfg.NATS.URL != "")

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	pool, err := deps.PoolFactory(ctx, store.ConnectConfig{
		URL:      cfg.Database.URL,
		Timeout:  cfg.Database.ConnectTimeout,
		MaxConns: cfg.Database.MaxConns,
	}, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	b := backends{DB: pool}

	if cfg.Redis.URL != "" {
		client, err := deps.RedisFactory(ctx, cfg.Redis.URL)
		if err != nil {
			return oops.With("operation", "connect to redis").Wrap(err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		}()
		b.Redis = client
	}

	if cfg.NATS.URL != "" {
		conn, err := deps.NATSFactory(cfg.NATS.URL, logger)
		if err != nil {
			return oops.With("operation", "connect to nats").Wrap(err)
		}
		defer func() {
			if drainErr := conn.Drain(); drainErr != nil {
				logger.Debug("error draining nats connection", "error", drainErr)
			}
		}()
		publisher, err := events.NewPublisher(conn, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err //nolint:wrapcheck // coded by events
		}
		b.Events = publisher
	}

	b.Mailer, err = newMailer(cfg.Mail, deps.LogOutput, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var httpObserver httpapi.RequestObserver
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())

		if m := obsServer.Metrics(); m != nil {
			b.Observer = m
			httpObserver = m
		}
	}

	svc, janitor, err := buildService(cfg, b, logger)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler: httpapi.New(svc, httpapi.Config{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			SecureCookies:  cfg.HTTP.SecureCookies,
		}, logger, httpObserver),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	httpErrChan := make(chan error, 1)
	go func() {
		defer close(httpErrChan)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrChan <- err
		}
	}()
	go monitorServerErrors(ctx, cancel, httpErrChan, "http", logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Run(ctx)
	}()

	ready.Store(true)
	cmd.Println("authd listening on", listener.Addr().String())
	logger.Info("authd ready", "http_addr", listener.Addr().String())

	<-ctx.Done()
	ready.Store(false)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	wg.Wait()
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

func autoMigrate(factory MigratorFactory, url string, logger *slog.Logger) error {
	m, err := factory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Debug("error closing migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto migrate").Wrap(err)
	}
	logger.Info("migrations applied")
	return nil
}

func stopObservability(s ObservabilityServer, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

var _ auth.OperationObserver = (*observability.Metrics)(nil)
