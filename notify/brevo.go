package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	brevoEndpoint = "https://api.brevo.com/v3/smtp/email"
	// brevoTag groups every notification in the Brevo transactional log.
	brevoTag = "zendesk-prioritizer"
)

// BrevoProvider sends notification email through Brevo's transactional API.
type BrevoProvider struct {
	client   *http.Client
	logger   *slog.Logger
	apiKey   string
	sender   brevoContact
	endpoint string
	attempts uint
}

// NewBrevoProvider creates a Brevo provider sending as fromName <fromAddr>.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		apiKey:   apiKey,
		sender:   brevoContact{Email: fromAddr, Name: fromName},
		endpoint: brevoEndpoint,
		attempts: 3,
	}
}

type brevoSendRequest struct {
	Sender  brevoContact      `json:"sender"`
	To      []brevoContact    `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"htmlContent"`
	Text    string            `json:"textContent,omitempty"`
	Tags    []string          `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (b *BrevoProvider) request(e *Email) brevoSendRequest {
	req := brevoSendRequest{
		Sender:  b.sender,
		To:      []brevoContact{{Email: e.To}},
		Subject: e.Subject,
		HTML:    e.HTML,
		Text:    e.Text,
		Tags:    []string{brevoTag},
	}
	if e.ViewID != 0 {
		view := strconv.FormatInt(e.ViewID, 10)
		req.Tags = append(req.Tags, "view-"+view)
		req.Headers = map[string]string{viewHeader: view}
	}
	return req
}

// Send posts e to Brevo. Rejected requests are not retried.
func (b *BrevoProvider) Send(ctx context.Context, e *Email) error {
	payload, err := json.Marshal(b.request(e))
	if err != nil {
		return fmt.Errorf("marshal brevo request: %w", err)
	}

	return deliver(ctx, b.logger, "brevo", b.attempts, e, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("api-key", b.apiKey)

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				b.logger.Warn("Failed to close response body", "error", closeErr)
			}
		}()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		b.logger.Debug("Brevo rejected email", "status_code", resp.StatusCode, "body", string(detail))

		statusErr := &StatusError{Provider: "brevo", Code: resp.StatusCode}
		if permanent(resp.StatusCode) {
			return retry.Unrecoverable(statusErr)
		}
		return statusErr
	})
}
