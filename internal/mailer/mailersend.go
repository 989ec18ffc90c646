// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package mailer

import (
	"context"
	"time"

	"github.com/mailersend/mailersend-go"
	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

type emailSender interface {
	Send(ctx context.Context, message *mailersend.Message) (*mailersend.Response, error)
}

// MailerSendMailer sends codes through the MailerSend API.
type MailerSendMailer struct {
	email   emailSender
	from    mailersend.From
	timeout time.Duration
	now     func() time.Time
}

// NewMailerSendMailer creates a MailerSendMailer.
func NewMailerSendMailer(apiKey string, from Sender) (*MailerSendMailer, error) {
	if apiKey == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mailersend api key is required")
	}
	if from.Email == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mail from address is required")
	}
	return newMailerSendMailer(mailersend.NewMailersend(apiKey).Email, from), nil
}

func newMailerSendMailer(email emailSender, from Sender) *MailerSendMailer {
	return &MailerSendMailer{
		email:   email,
		from:    mailersend.From{Name: from.Name, Email: from.Email},
		timeout: 10 * time.Second,
		now:     time.Now,
	}
}

// SendCode implements auth.Mailer.
func (m *MailerSendMailer) SendCode(ctx context.Context, msg auth.CodeMessage) error {
	r, err := Render(msg, m.now())
	if err != nil {
		return err
	}

	message := new(mailersend.Message)
	message.SetFrom(m.from)
	message.SetRecipients([]mailersend.Recipient{{Email: msg.To}})
	message.SetSubject(r.Subject)
	message.SetText(r.Text)
	message.SetHTML(r.HTML)
	message.SetTags([]string{"otp", string(msg.Purpose)})

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if _, err := m.email.Send(ctx, message); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("driver", "mailersend").Wrap(err)
	}
	return nil
}

var _ auth.Mailer = (*MailerSendMailer)(nil)
