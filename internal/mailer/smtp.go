// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// SMTPConfig configures an SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials TLS directly (port 465) instead of relying on STARTTLS.
	ImplicitTLS bool
	From        Sender
	Timeout     time.Duration
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends codes through an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send sendFunc
	now  func() time.Time
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From.Email == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mail from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	m := &SMTPMailer{cfg: cfg, now: time.Now}
	m.send = smtp.SendMail
	if cfg.ImplicitTLS {
		m.send = m.sendImplicitTLS
	}
	return m, nil
}

func (m *SMTPMailer) addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

func (m *SMTPMailer) auth() smtp.Auth {
	if m.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
}

// SendCode implements auth.Mailer.
func (m *SMTPMailer) SendCode(ctx context.Context, msg auth.CodeMessage) error {
	r, err := Render(msg, m.now())
	if err != nil {
		return err
	}
	body, err := buildMIME(m.cfg.From, msg.To, r, m.now())
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- m.send(m.addr(), m.auth(), m.cfg.From.Email, []string{msg.To}, body)
	}()
	select {
	case err := <-done:
		if err != nil {
			return oops.Code("MAIL_SEND_FAILED").With("driver", "smtp").With("host", m.cfg.Host).Wrap(err)
		}
		return nil
	case <-ctx.Done():
		return oops.Code("MAIL_SEND_FAILED").With("driver", "smtp").Wrap(ctx.Err())
	}
}

func (m *SMTPMailer) sendImplicitTLS(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return err //nolint:wrapcheck // wrapped by SendCode
	}
	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err //nolint:wrapcheck // wrapped by SendCode
	}
	defer func() { _ = c.Close() }()

	if a != nil {
		if err := c.Auth(a); err != nil {
			return err //nolint:wrapcheck // wrapped by SendCode
		}
	}
	if err := c.Mail(from); err != nil {
		return err //nolint:wrapcheck // wrapped by SendCode
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err //nolint:wrapcheck // wrapped by SendCode
		}
	}
	w, err := c.Data()
	if err != nil {
		return err //nolint:wrapcheck // wrapped by SendCode
	}
	if _, err := w.Write(msg); err != nil {
		return err //nolint:wrapcheck // wrapped by SendCode
	}
	if err := w.Close(); err != nil {
		return err //nolint:wrapcheck // wrapped by SendCode
	}
	return c.Quit() //nolint:wrapcheck // wrapped by SendCode
}

// buildMIME renders a multipart/alternative message with text and HTML parts.
func buildMIME(from Sender, to string, r Rendered, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=utf-8", r.Text},
		{"text/html; charset=utf-8", r.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
	}

	var msg bytes.Buffer
	fromHeader := from.Email
	if from.Name != "" {
		fromHeader = fmt.Sprintf("%q <%s>", from.Name, from.Email)
	}
	fmt.Fprintf(&msg, "From: %s\r\n", fromHeader)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", r.Subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@authd>\r\n", uuid.NewString())
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

var _ auth.Mailer = (*SMTPMailer)(nil)
