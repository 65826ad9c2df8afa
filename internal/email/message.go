// Package email builds and delivers password reset notifications.
package email

import (
	"bytes"
	htmltemplate "html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"

	"github.com/amirk1998/secure-auth/pkg/validator"
)

const (
	ResetSubject = "Password reset request"
	resetPath    = "/reset-password"
)

// Message is a rendered multipart email.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

type resetData struct {
	DisplayName string
	Link        string
	Expiry      string
}

var resetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(`Hello {{.DisplayName}},

We received a request to reset your password. Open the link below to choose a new one:

{{.Link}}

This link expires in {{.Expiry}}.

If you did not request a password reset, ignore this email. Your password will not change.
Do not share this link with anyone.
`))

var resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
  <h2>Password reset request</h2>
  <p>Hello <strong>{{.DisplayName}}</strong>,</p>
  <p>We received a request to reset your password.</p>
  <p><a href="{{.Link}}">Reset password</a></p>
  <p>Or copy this link into your browser:</p>
  <p style="word-break: break-all;">{{.Link}}</p>
  <ul>
    <li>This link expires in <strong>{{.Expiry}}</strong>.</li>
    <li>If you did not request a password reset, ignore this email.</li>
    <li>Do not share this link with anyone.</li>
  </ul>
</body>
</html>
`))

// ResetLink returns baseURL/reset-password?token=<token>.
func ResetLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + resetPath + "?token=" + url.QueryEscape(token)
}

// BuildResetMessage validates the inputs and renders the reset email.
func BuildResetMessage(from, baseURL, recipient, token, displayName string, ttl time.Duration) (*Message, error) {
	if recipient == "" || !validator.IsEmail(recipient) {
		return nil, oops.Code("EMAIL_INVALID_RECIPIENT").Errorf("invalid email address")
	}
	if token == "" {
		return nil, oops.Code("EMAIL_MISSING_TOKEN").Errorf("reset token is required")
	}

	data := resetData{
		DisplayName: displayName,
		Link:        ResetLink(baseURL, token),
		Expiry:      formatTTL(ttl),
	}

	var text, html bytes.Buffer
	if err := resetText.Execute(&text, data); err != nil {
		return nil, oops.Code("EMAIL_RENDER_FAILED").Wrap(err)
	}
	if err := resetHTML.Execute(&html, data); err != nil {
		return nil, oops.Code("EMAIL_RENDER_FAILED").Wrap(err)
	}

	return &Message{
		From:    from,
		To:      recipient,
		Subject: ResetSubject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func formatTTL(ttl time.Duration) string {
	switch {
	case ttl <= 0 || ttl == time.Hour:
		return "1 hour"
	case ttl%time.Hour == 0:
		return strconv.Itoa(int(ttl/time.Hour)) + " hours"
	case ttl%time.Minute == 0:
		return strconv.Itoa(int(ttl/time.Minute)) + " minutes"
	default:
		return ttl.String()
	}
}

// Bytes encodes m as a multipart/alternative RFC 5322 message.
func (m *Message) Bytes() ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", m.Text},
		{"text/html; charset=UTF-8", m.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, oops.Code("EMAIL_ENCODE_FAILED").Wrap(err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, oops.Code("EMAIL_ENCODE_FAILED").Wrap(err)
		}
		if err := qp.Close(); err != nil {
			return nil, oops.Code("EMAIL_ENCODE_FAILED").Wrap(err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, oops.Code("EMAIL_ENCODE_FAILED").Wrap(err)
	}

	var out bytes.Buffer
	out.WriteString("From: " + m.From + "\r\n")
	out.WriteString("To: " + m.To + "\r\n")
	out.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	out.WriteString("MIME-Version: 1.0\r\n")
	out.WriteString("Content-Type: multipart/alternative; boundary=" + mw.Boundary() + "\r\n")
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
