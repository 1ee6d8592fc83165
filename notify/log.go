package notify

import (
	"context"
	"log/slog"

	"zendesk-prioritizer/pkg/prioritizer"
)

// Log writes notifications to the log instead of showing them.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify logs the notification.
func (l *Log) Notify(ctx context.Context, n *prioritizer.Notification) error {
	l.logger.Info("NOTIFICATION",
		"id", n.ID,
		"title", n.Title,
		"message", n.Message,
		"context", n.ContextMessage,
		"link", n.LinkURL,
		"view_id", n.ViewID,
		"ticket_count", n.TicketCount)
	return nil
}
