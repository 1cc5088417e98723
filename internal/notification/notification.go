// Package notification renders and delivers applicant status emails.
package notification

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/models"
)

// Notice is a request to tell an applicant about a status change.
type Notice struct {
	Email     string                   `json:"email"`
	Reference string                   `json:"reference"`
	Status    models.ApplicationStatus `json:"status"`
	Message   string                   `json:"message,omitempty"`
	Language  string                   `json:"language"`
}

// Notifier accepts notices for asynchronous, at-most-once delivery.
// Implementations never block the caller on delivery and never report
// delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Sender transmits a rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailer renders notices through a catalog and hands them to a sender.
type Mailer struct {
	catalog *Catalog
	sender  Sender
}

func NewMailer(catalog *Catalog, sender Sender) *Mailer {
	return &Mailer{catalog: catalog, sender: sender}
}

// Deliver renders and sends n synchronously.
func (m *Mailer) Deliver(ctx context.Context, n Notice) error {
	if n.Email == "" {
		return errors.Errorf("notice for %s has no recipient", n.Reference)
	}
	msg, err := m.catalog.Render(n)
	if err != nil {
		return err
	}
	return errors.Wrapf(m.sender.Send(ctx, n.Email, msg.Subject, msg.Body), "send notice for %s", n.Reference)
}

// LogSender writes emails to the log instead of sending them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, to, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email (not sent, smtp disabled)", "to", to, "subject", subject, "body_bytes", len(body))
	return nil
}

// Discard drops every notice. Used when notifications are disabled.
type Discard struct{}

func (Discard) Notify(context.Context, Notice) {}
