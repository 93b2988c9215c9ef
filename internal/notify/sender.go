// Package notify defines the notification transport contract. The transport
// itself (SMTP, SES, push) is an external collaborator; this package carries
// its interface and a development sender.
package notify

import (
	"context"
	"log/slog"
)

// Sender delivers one notification. Implementations are assumed to fail
// cleanly with no partial sends, which is what makes the dispatcher's retry
// logic sound.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes notifications to the structured log instead of delivering
// them. Used in development and as the default when no transport is wired.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "log_sender")}
}

// Send logs the notification and reports success.
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info("notification (log transport)",
		"to", to,
		"subject", subject,
		"body_length", len(body))
	return nil
}

var _ Sender = (*LogSender)(nil)
