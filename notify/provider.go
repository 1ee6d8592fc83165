// Package notify delivers new-ticket notifications via pluggable providers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"zendesk-prioritizer/pkg/prioritizer"
)

// Notifier delivers a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, n *prioritizer.Notification) error
}

// Email is a rendered notification ready for an email provider.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
	// ViewID is the monitored view the tickets arrived in, zero for test sends.
	ViewID int64
}

// Provider hands a rendered email to a delivery service.
type Provider interface {
	Send(ctx context.Context, e *Email) error
}

// Sender sends notifications as email using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	to       string
}

// NewSender creates an email notifier delivering to the given address.
func NewSender(provider Provider, to string, logger *slog.Logger) *Sender {
	return &Sender{provider: provider, logger: logger, to: to}
}

// Notify renders n and sends it to the configured recipient.
func (s *Sender) Notify(ctx context.Context, n *prioritizer.Notification) error {
	if s.to == "" {
		return errors.New("no recipient configured")
	}

	e := &Email{
		To:      s.to,
		Subject: n.Title,
		HTML:    formatNotificationBody(n),
		Text:    formatNotificationText(n),
		ViewID:  n.ViewID,
	}
	if e.Subject == "" {
		e.Subject = "Zendesk Prioritizer"
	}

	s.logger.Info("Emailing notification",
		"notification", n.ID,
		"view_id", n.ViewID,
		"ticket_count", n.TicketCount,
		"to", e.To)

	if err := s.provider.Send(ctx, e); err != nil {
		return fmt.Errorf("email notification %s: %w", n.ID, err)
	}
	return nil
}

// Multi delivers to every notifier, continuing past failures.
type Multi []Notifier

// Notify calls each notifier in turn and joins their errors.
func (m Multi) Notify(ctx context.Context, n *prioritizer.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StatusError is a non-2xx answer from an email API.
type StatusError struct {
	Provider string
	Code     int
}

func (e *StatusError) Error() string {
	return e.Provider + ": HTTP " + strconv.Itoa(e.Code)
}

// permanent reports whether repeating the request cannot help. Rate limits
// and server errors are worth another attempt, other 4xx answers are not.
func permanent(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// Backoff between delivery attempts, shortened by tests.
var (
	retryDelay  = time.Second
	retryJitter = 10 * time.Second
)

// deliver runs one provider call with the shared retry policy. Errors wrapped
// with retry.Unrecoverable end the loop early.
func deliver(ctx context.Context, logger *slog.Logger, provider string, attempts uint, e *Email, call func() error) error {
	start := time.Now()
	err := retry.Do(
		call,
		retry.Attempts(attempts),
		retry.Delay(retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(retryJitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying email delivery", "provider", provider, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		logger.Warn("Email delivery failed",
			"provider", provider,
			"to", e.To,
			"view_id", e.ViewID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return err
	}
	logger.Info("Email delivered",
		"provider", provider,
		"to", e.To,
		"view_id", e.ViewID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
