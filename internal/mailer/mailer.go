// Package mailer delivers account mail: confirmation links, password resets
// and email-change confirmations.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/sakif/social-blog/internal/metrics"
)

// Message is a single outgoing mail. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the dialer settings. From is the envelope sender.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SMTPSender sends through an SMTP relay with gomail.
type SMTPSender struct {
	cfg    SMTPConfig
	prefix string
	dialer *gomail.Dialer
	logger *slog.Logger
}

// NewSMTPSender creates an SMTPSender. prefix is prepended to every subject,
// e.g. "[Blog]".
func NewSMTPSender(cfg SMTPConfig, prefix string, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		cfg:    cfg,
		prefix: prefix,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		logger: logger,
	}
}

// Send dials the relay and delivers msg. gomail has no context support, so
// ctx is only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("mailer: empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := s.build(msg)
	if err := s.dialer.DialAndSend(m); err != nil {
		metrics.MailsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("mailer: send to %s: %w", msg.To, err)
	}

	metrics.MailsTotal.WithLabelValues("sent").Inc()
	s.logger.Info("mail sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

func (s *SMTPSender) build(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject(s.prefix, msg.Subject))
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m
}

// LogSender writes mail to the logger instead of sending it. The server
// falls back to it when no SMTP host is configured, which keeps confirmation
// links reachable in development.
type LogSender struct {
	prefix string
	logger *slog.Logger
}

func NewLogSender(prefix string, logger *slog.Logger) *LogSender {
	return &LogSender{prefix: prefix, logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	metrics.MailsTotal.WithLabelValues("logged").Inc()
	s.logger.Info("mail (not sent, SMTP disabled)",
		slog.String("to", msg.To),
		slog.String("subject", subject(s.prefix, msg.Subject)),
		slog.String("body", msg.Text),
	)
	return nil
}

func subject(prefix, s string) string {
	if prefix == "" {
		return s
	}
	return prefix + " " + s
}
