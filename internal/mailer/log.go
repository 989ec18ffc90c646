// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package mailer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// LogMailer prints codes to a writer instead of sending them. The code goes
// to the writer only, never to the structured log.
type LogMailer struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewLogMailer creates a LogMailer writing to w (stdout when nil).
func NewLogMailer(w io.Writer, logger *slog.Logger) *LogMailer {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogMailer{w: w, logger: logger, now: time.Now}
}

// SendCode implements auth.Mailer.
func (m *LogMailer) SendCode(ctx context.Context, msg auth.CodeMessage) error {
	r, err := Render(msg, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := fmt.Fprintf(m.w, "---- mail to %s ----\nSubject: %s\n\n%s----\n", msg.To, r.Subject, r.Text); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("driver", "log").Wrap(err)
	}
	m.logger.InfoContext(ctx, "code delivered", "driver", "log", "purpose", string(msg.Purpose))
	return nil
}

var _ auth.Mailer = (*LogMailer)(nil)
