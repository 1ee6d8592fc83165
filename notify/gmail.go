package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// viewHeader names the monitored view a notification came from so mail
// filters can route per view.
const viewHeader = "X-Zendesk-View"

// NewGmailService creates a send-only Gmail client. With no credentials file
// it falls back to Application Default Credentials.
func NewGmailService(ctx context.Context, credentialsFile string) (*gmail.Service, error) {
	opts := []option.ClientOption{option.WithScopes(gmail.GmailSendScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// GmailProvider sends notification email as the authenticated Gmail account.
type GmailProvider struct {
	service  *gmail.Service
	logger   *slog.Logger
	attempts uint
	boundary func() string
}

// NewGmailProvider creates a Gmail provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service:  service,
		logger:   logger,
		attempts: 3,
		boundary: func() string { return "zdp-" + uuid.NewString() },
	}
}

// sanitizeEmailHeader drops CR, LF and other control characters so ticket
// subjects cannot inject headers.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// buildMIME renders e as multipart/alternative with a plain text part first.
// From is filled in by Gmail.
func buildMIME(e *Email, boundary string) string {
	var b strings.Builder
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("MIME-Version", "1.0")
	header("To", sanitizeEmailHeader(e.To))
	header("Subject", mime.QEncoding.Encode("utf-8", sanitizeEmailHeader(e.Subject)))
	if e.ViewID != 0 {
		header(viewHeader, strconv.FormatInt(e.ViewID, 10))
	}
	header("Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
	b.WriteString("\r\n")

	part := func(contentType, body string) {
		fmt.Fprintf(&b, "--%s\r\nContent-Type: %s; charset=utf-8\r\n\r\n%s\r\n", boundary, contentType, body)
	}
	if e.Text != "" {
		part("text/plain", e.Text)
	}
	part("text/html", e.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.String()
}

// Send delivers e through users.messages.send.
func (g *GmailProvider) Send(ctx context.Context, e *Email) error {
	raw := base64.URLEncoding.EncodeToString([]byte(buildMIME(e, g.boundary())))

	return deliver(ctx, g.logger, "gmail", g.attempts, e, func() error {
		_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
		if err == nil {
			return nil
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && permanent(apiErr.Code) {
			return retry.Unrecoverable(&StatusError{Provider: "gmail", Code: apiErr.Code})
		}
		return err
	})
}
