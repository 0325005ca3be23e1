package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogSender logs emails instead of sending them. Used with MAIL_PROVIDER=log.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "email (not delivered)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

type Options struct {
	Provider     string // log, resend or smtp
	ResendAPIKey string
	ResendFrom   string
	SMTP         SMTPOptions
}

// NewSender picks the transport named by opts.Provider, falling back to
// LogSender for unknown or empty values.
func NewSender(opts Options, logger *slog.Logger) Sender {
	switch opts.Provider {
	case "resend":
		return &ResendSender{
			client: resend.NewClient(opts.ResendAPIKey),
			from:   opts.ResendFrom,
		}
	case "smtp":
		return NewSMTPSender(opts.SMTP)
	default:
		return NewLogSender(logger)
	}
}
