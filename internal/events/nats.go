// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package events publishes auth lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "authd"

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher implements auth.EventPublisher. Subjects are
// "<prefix>.<event type>", e.g. "authd.session.issued".
type Publisher struct {
	conn   msgPublisher
	prefix string
}

// NewPublisher creates a Publisher on an existing connection.
func NewPublisher(conn *nats.Conn, prefix string) (*Publisher, error) {
	if conn == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("nats connection is required")
	}
	return newPublisher(conn, prefix), nil
}

func newPublisher(conn msgPublisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(t auth.EventType) string {
	return p.prefix + "." + string(t)
}

// Publish implements auth.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event auth.Event) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("EVENT_PUBLISH_FAILED").Wrap(err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return oops.Code("EVENT_PUBLISH_FAILED").With("type", event.Type).Wrap(err)
	}

	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ulid.Make().String())
	msg.Header.Set("Content-Type", "application/json")

	if err := p.conn.PublishMsg(msg); err != nil {
		return oops.Code("EVENT_PUBLISH_FAILED").
			With("subject", msg.Subject).
			Wrap(err)
	}
	return nil
}

// Connect dials NATS with reconnect handling that logs through logger.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, oops.Code("NATS_CONNECT_FAILED").With("url", url).Wrap(err)
	}
	logger.Info("nats connected", "url", conn.ConnectedUrl())
	return conn, nil
}

var _ auth.EventPublisher = (*Publisher)(nil)
