// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package mailer delivers one-time codes. Drivers: log (development),
// smtp and mailersend.
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// Sender identifies the From address.
type Sender struct {
	Name  string
	Email string
}

// Rendered is a code message ready to send.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

var subjects = map[auth.Purpose]string{
	auth.PurposeRegister:      "Confirm your email address",
	auth.PurposeLogin:         "Your sign-in code",
	auth.PurposeResetPassword: "Reset your password",
}

var htmlBody = template.Must(template.New("code").Parse(`<p>{{.Intro}}</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>This code expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>
`))

func intro(p auth.Purpose) string {
	switch p {
	case auth.PurposeRegister:
		return "Use this code to finish creating your account."
	case auth.PurposeResetPassword:
		return "Use this code to choose a new password."
	default:
		return "Use this code to sign in."
	}
}

// Render builds the subject and bodies for msg. now is used to express the
// expiry as a duration.
func Render(msg auth.CodeMessage, now time.Time) (Rendered, error) {
	subject, ok := subjects[msg.Purpose]
	if !ok {
		return Rendered{}, oops.Code(auth.CodeOTPPurposeInvalid).With("purpose", msg.Purpose).Errorf("no template for purpose")
	}
	minutes := max(int(msg.ExpiresAt.Sub(now).Round(time.Minute)/time.Minute), 1)

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, map[string]any{
		"Intro":   intro(msg.Purpose),
		"Code":    msg.Code,
		"Minutes": minutes,
	}); err != nil {
		return Rendered{}, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
	}

	text := fmt.Sprintf("%s\n\n    %s\n\nThis code expires in %d minutes. If you did not ask for it, ignore this email.\n",
		intro(msg.Purpose), msg.Code, minutes)

	return Rendered{Subject: subject, Text: text, HTML: html.String()}, nil
}
