package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	sendgrid "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid defaults
const (
	SendGridHost     = "https://api.sendgrid.com"
	SendGridSendPath = "/v3/mail/send"
)

// EmailConfig holds the account-wide sender settings
type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides the SendGrid API host
	Host string
}

// EmailAdapter mails the artifact as an attachment through SendGrid.
// Channel config keys: to (fallback recipient), subject, fromEmail, fromName.
type EmailAdapter struct {
	cfg EmailConfig
}

// NewEmailAdapter creates the email adapter
func NewEmailAdapter(cfg EmailConfig) *EmailAdapter {
	if cfg.Host == "" {
		cfg.Host = SendGridHost
	}
	return &EmailAdapter{cfg: cfg}
}

func (a *EmailAdapter) Type() ChannelType { return ChannelEmail }

func (a *EmailAdapter) Send(ctx context.Context, ch *Channel, env Envelope) Result {
	if a.cfg.APIKey == "" {
		return Failed(Permanent(CodeInvalidConfig, "sendgrid api key is not configured"))
	}
	to := env.Recipient
	if to == "" {
		to = ch.Config["to"]
	}
	if to == "" {
		return Failed(Permanent(CodeNoRecipient, "no recipient email for invoice %s", env.InvoiceNumber))
	}

	fromEmail, fromName := a.cfg.FromEmail, a.cfg.FromName
	if v := ch.Config["fromEmail"]; v != "" {
		fromEmail = v
	}
	if v := ch.Config["fromName"]; v != "" {
		fromName = v
	}
	if fromEmail == "" {
		return Failed(Permanent(CodeInvalidConfig, "sender email is not configured"))
	}

	subject := ch.Config["subject"]
	if subject == "" {
		subject = fmt.Sprintf("Rechnung %s", env.InvoiceNumber)
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(fromName, fromEmail))
	m.Subject = subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", to))
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent("text/plain",
		fmt.Sprintf("Anbei erhalten Sie die Rechnung %s als elektronische Rechnung (%s).", env.InvoiceNumber, env.Format)))

	att := mail.NewAttachment()
	att.SetContent(base64.StdEncoding.EncodeToString(env.Content))
	att.SetType(env.MimeType)
	att.SetFilename(env.Filename)
	att.SetDisposition("attachment")
	m.AddAttachment(att)

	request := sendgrid.GetRequest(a.cfg.APIKey, SendGridSendPath, a.cfg.Host)
	request.Method = http.MethodPost
	request.Body = mail.GetRequestBody(m)

	resp, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Failed(Transient(CodeTimeout, "sendgrid request timed out"))
		}
		return Failed(Transient(CodeNetwork, "sendgrid request failed: %v", err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Delivered(firstHeader(resp.Headers, "X-Message-Id"))
	}
	return Failed(classifyStatus(resp.StatusCode, resp.Body))
}

func firstHeader(headers map[string][]string, key string) string {
	return http.Header(headers).Get(key)
}

// classifyStatus maps a non-2xx response to a delivery error
func classifyStatus(status int, body string) *DeliveryError {
	if len(body) > 200 {
		body = body[:200]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return Transient(CodeRateLimited, "rate limited (status %d)", status)
	case status == http.StatusRequestTimeout:
		return Transient(CodeTimeout, "request timeout (status %d)", status)
	case status >= 500:
		return Transient(CodeServerError, "server error (status %d): %s", status, body)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Permanent(CodeUnauthorized, "not authorised (status %d)", status)
	default:
		return Permanent(CodeRejected, "rejected (status %d): %s", status, body)
	}
}
