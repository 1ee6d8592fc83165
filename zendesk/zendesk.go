// Package zendesk handles fetching tickets, audits, users and views from the Zendesk REST API.
package zendesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"zendesk-prioritizer/pkg/prioritizer"
)

// AuditsPerPage is the page size Zendesk uses for the audits endpoint.
const AuditsPerPage = 100

// StatusError reports a failed API request. Status is 0 when the request
// never produced a usable response (network failure, undecodable body).
type StatusError struct {
	Err    error
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request unsent: %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.URL)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusOf extracts the HTTP status from an error, or 0 if it carries none.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

var statusMessages = map[int]string{
	0:   "Request Unsent",
	400: "Bad Request",
	401: "Not Authorized. Please log in to Zendesk",
	403: "Forbidden",
	404: "Not Found. Check your Domain and View ID",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// ErrorMessage renders a human-readable message for an HTTP status.
// Unmapped statuses render as the bare code.
func ErrorMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return fmt.Sprintf("%d: %s", status, msg)
	}
	return strconv.Itoa(status)
}

// Tracker is notified around requests that count toward refresh progress.
type Tracker interface {
	RequestStarted()
	RequestDone()
}

type trackerKey struct{}

// WithTracker returns a context whose requests report to t.
func WithTracker(ctx context.Context, t Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

func trackerFrom(ctx context.Context) Tracker {
	t, _ := ctx.Value(trackerKey{}).(Tracker)
	return t
}

// Config holds client configuration.
type Config struct {
	// BaseURL overrides the per-domain https://<domain>.zendesk.com base.
	// A "%s" verb, if present, is replaced with the domain.
	BaseURL  string
	Email    string
	APIToken string
}

// Client fetches data from Zendesk.
type Client struct {
	client *http.Client
	logger *slog.Logger
	cfg    Config
}

// New creates a new Zendesk client.
func New(client *http.Client, cfg Config, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		client: client,
		logger: logger,
		cfg:    cfg,
	}
}

// BaseURL returns the API host for a domain.
func (c *Client) BaseURL(domain string) string {
	switch {
	case c.cfg.BaseURL == "":
		return fmt.Sprintf("https://%s.zendesk.com", domain)
	case strings.Contains(c.cfg.BaseURL, "%s"):
		return strings.TrimSuffix(fmt.Sprintf(c.cfg.BaseURL, domain), "/")
	default:
		return strings.TrimSuffix(c.cfg.BaseURL, "/")
	}
}

// CurrentUser fetches the authenticated user.
func (c *Client) CurrentUser(ctx context.Context, domain string) (*prioritizer.User, error) {
	var resp struct {
		User *prioritizer.User `json:"user"`
	}
	if err := c.get(ctx, domain, "/api/v2/users/me.json", &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Views lists the views available to the authenticated user.
func (c *Client) Views(ctx context.Context, domain string) ([]*prioritizer.View, error) {
	var resp struct {
		Views []*prioritizer.View `json:"views"`
	}
	if err := c.get(ctx, domain, "/api/v2/views.json", &resp); err != nil {
		return nil, err
	}
	return resp.Views, nil
}

// ViewTickets fetches the tickets currently in a view.
func (c *Client) ViewTickets(ctx context.Context, domain string, viewID int64) ([]*prioritizer.Ticket, error) {
	var resp struct {
		Tickets []*prioritizer.Ticket `json:"tickets"`
	}
	path := fmt.Sprintf("/api/v2/views/%d/tickets.json", viewID)
	if err := c.get(ctx, domain, path, &resp); err != nil {
		return nil, err
	}
	return resp.Tickets, nil
}

// User fetches a single user.
func (c *Client) User(ctx context.Context, domain string, userID int64) (*prioritizer.User, error) {
	var resp struct {
		User *prioritizer.User `json:"user"`
	}
	path := fmt.Sprintf("/api/v2/users/%d.json", userID)
	if err := c.get(ctx, domain, path, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return &prioritizer.User{ID: userID}, nil
	}
	return resp.User, nil
}

// AuditPage is one page of a ticket's audit history.
type AuditPage struct {
	Audits []*prioritizer.Audit `json:"audits"`
	Count  int                  `json:"count"`
}

// TicketAudits fetches one page of audits. Page 1 is requested without a page parameter.
func (c *Client) TicketAudits(ctx context.Context, domain string, ticketID int64, page int) (*AuditPage, error) {
	path := fmt.Sprintf("/api/v2/tickets/%d/audits.json", ticketID)
	if page > 1 {
		path += "?" + url.Values{"page": {strconv.Itoa(page)}}.Encode()
	}
	var resp AuditPage
	if err := c.get(ctx, domain, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AllTicketAudits fetches every audit page of a ticket. The first page
// provides the total count; remaining pages are fetched concurrently and
// appended in page order.
func (c *Client) AllTicketAudits(ctx context.Context, domain string, ticketID int64) ([]*prioritizer.Audit, error) {
	first, err := c.TicketAudits(ctx, domain, ticketID, 1)
	if err != nil {
		return nil, err
	}

	totalPages := PageCount(first.Count)
	all := append([]*prioritizer.Audit(nil), first.Audits...)
	if totalPages == 1 {
		return all, nil
	}

	pages := make([][]*prioritizer.Audit, totalPages-1)
	g, gctx := errgroup.WithContext(ctx)
	for page := 2; page <= totalPages; page++ {
		g.Go(func() error {
			resp, err := c.TicketAudits(gctx, domain, ticketID, page)
			if err != nil {
				return err
			}
			pages[page-2] = resp.Audits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range pages {
		all = append(all, p...)
	}
	return all, nil
}

// PageCount returns how many audit pages exist for a total count.
func PageCount(count int) int {
	if count <= 1 {
		return 1
	}
	return (count-1)/AuditsPerPage + 1
}

func (c *Client) get(ctx context.Context, domain, path string, out any) error {
	reqURL := c.BaseURL(domain) + path

	tracker := trackerFrom(ctx)
	if tracker != nil {
		tracker.RequestStarted()
	}

	c.logger.Debug("HTTP request starting", "method", "GET", "url", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return &StatusError{URL: reqURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Email != "" && c.cfg.APIToken != "" {
		req.SetBasicAuth(c.cfg.Email+"/token", c.cfg.APIToken)
	}

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		c.logger.Warn("HTTP request failed",
			"url", reqURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return &StatusError{URL: reqURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("HTTP request completed",
		"url", reqURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("HTTP request returned non-OK status", "url", reqURL, "status_code", resp.StatusCode)
		return &StatusError{URL: reqURL, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &StatusError{URL: reqURL, Err: fmt.Errorf("decode response: %w", err)}
	}

	if tracker != nil {
		tracker.RequestDone()
	}
	return nil
}
