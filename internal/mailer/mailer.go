// Package mailer delivers outbound mail over SMTP. It is a fire-and-forget
// collaborator: callers log failures and move on.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	gomail "gopkg.in/gomail.v2"
)

// Config holds the SMTP settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Mailer sends transactional mail through an SMTP relay.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	logger *slog.Logger
}

// New creates a Mailer. When cfg.Host is empty it returns nil, which the
// auth service treats as "mail disabled".
func New(cfg Config, logger *slog.Logger) *Mailer {
	if cfg.Host == "" {
		return nil
	}

	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = "no-reply@example.com"
	}

	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// SendPasswordReset mails a password-reset link.
func (m *Mailer) SendPasswordReset(_ context.Context, email, resetURL string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Reset your FruitRipe password")
	msg.SetBody("text/plain", fmt.Sprintf("Use this link to reset your password: %s", resetURL))
	msg.AddAlternative("text/html", fmt.Sprintf(
		"<p>We received a request to reset your password.</p>"+
			"<p><a href=%q>Click here to reset your password</a></p>"+
			"<p>If you did not request this, you can safely ignore this email.</p>",
		resetURL,
	))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send reset mail: %w", err)
	}

	m.logger.Info("reset mail sent", "to", email)
	return nil
}
