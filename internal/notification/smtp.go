package notification

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	mail "github.com/go-mail/mail/v2"
	"github.com/pkg/errors"
)

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host          string
	Port          int
	User          string
	Pass          string
	From          string
	SkipTLSVerify bool
}

// SMTPSender sends plain-text mail over STARTTLS.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
}

// NewSMTPSender validates cfg and prepares a dialer.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &SMTPSender{cfg: cfg, dialer: d}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		d := *s.dialer
		d.Timeout = time.Until(deadline)
		return errors.WithStack(d.DialAndSend(newMessage(s.cfg.From, to, subject, body)))
	}
	return errors.WithStack(s.dialer.DialAndSend(newMessage(s.cfg.From, to, subject, body)))
}

func newMessage(from, to, subject, body string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}

// NewSender returns an SMTP sender, or a LogSender when cfg has no host.
func NewSender(cfg SMTPConfig, logger *slog.Logger) (Sender, error) {
	if cfg.Host == "" {
		if logger != nil {
			logger.Warn("SMTP_HOST is empty, notification emails are only logged")
		}
		return LogSender{Logger: logger}, nil
	}
	return NewSMTPSender(cfg)
}
