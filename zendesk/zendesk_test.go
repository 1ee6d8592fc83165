package zendesk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(srv.Client(), Config{BaseURL: srv.URL, Email: "agent@example.com", APIToken: "secret"}, logger)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{0, "0: Request Unsent"},
		{401, "401: Not Authorized. Please log in to Zendesk"},
		{404, "404: Not Found. Check your Domain and View ID"},
		{503, "503: Service Unavailable"},
		{418, "418"},
		{429, "429"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage(tt.status))
		})
	}
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 1},
		{1, 1},
		{100, 1},
		{101, 2},
		{250, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PageCount(tt.count), "count %d", tt.count)
	}
}

func TestBaseURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := New(nil, Config{}, logger)
	assert.Equal(t, "https://acme.zendesk.com", c.BaseURL("acme"))

	c = New(nil, Config{BaseURL: "http://%s.localhost:8080/"}, logger)
	assert.Equal(t, "http://acme.localhost:8080", c.BaseURL("acme"))

	c = New(nil, Config{BaseURL: "http://127.0.0.1:9999/"}, logger)
	assert.Equal(t, "http://127.0.0.1:9999", c.BaseURL("acme"))
}

func TestViewTicketsSendsAuthAndDecodes(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "agent@example.com/token", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/api/v2/views/42/tickets.json", r.URL.Path)
		fmt.Fprint(w, `{"tickets":[{"id":1,"subject":"Printer","requester_id":7,"priority":null},{"id":2,"subject":"VPN","requester_id":8,"priority":"high"}]}`)
	}))

	tickets, err := c.ViewTickets(context.Background(), "acme", 42)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, int64(1), tickets[0].ID)
	assert.Equal(t, "", tickets[0].Priority)
	assert.Equal(t, "high", tickets[1].Priority)
	assert.Equal(t, int64(8), tickets[1].RequesterID)
}

func TestStatusErrors(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/users/me.json":
			http.Error(w, "nope", http.StatusUnauthorized)
		default:
			fmt.Fprint(w, `{not json`)
		}
	}))

	_, err := c.CurrentUser(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	_, err = c.Views(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, 0, StatusOf(err), "undecodable body counts as unsent")
}

func TestNetworkFailureIsStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(nil, Config{BaseURL: baseURL}, logger)

	_, err := c.User(context.Background(), "acme", 5)
	require.Error(t, err)
	assert.Equal(t, 0, StatusOf(err))
	assert.Equal(t, "0: Request Unsent", ErrorMessage(StatusOf(err)))
}

func TestAllTicketAuditsPaginates(t *testing.T) {
	var mu sync.Mutex
	seenPages := map[string]int{}

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		mu.Lock()
		seenPages[page]++
		mu.Unlock()

		id := map[string]int{"": 1, "2": 2, "3": 3}[page]
		fmt.Fprintf(w, `{"count":250,"audits":[{"id":%d,"ticket_id":9,"created_at":"2026-01-0%dT10:00:00Z","events":[]}]}`, id, id)
	}))

	audits, err := c.AllTicketAudits(context.Background(), "acme", 9)
	require.NoError(t, err)
	require.Len(t, audits, 3)
	for i, a := range audits {
		assert.Equal(t, int64(i+1), a.ID, "pages appended in order")
	}
	assert.Equal(t, map[string]int{"": 1, "2": 1, "3": 1}, seenPages)
}

type countingTracker struct {
	started atomic.Int32
	done    atomic.Int32
}

func (c *countingTracker) RequestStarted() { c.started.Add(1) }
func (c *countingTracker) RequestDone()    { c.done.Add(1) }

func TestTrackerCountsOnlySuccess(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/users/1.json" {
			fmt.Fprint(w, `{"user":{"id":1,"name":"Ada"}}`)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	tracker := &countingTracker{}
	ctx := WithTracker(context.Background(), tracker)

	u, err := c.User(ctx, "acme", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	_, err = c.User(ctx, "acme", 2)
	require.Error(t, err)
	assert.Equal(t, "500: Internal Server Error", ErrorMessage(StatusOf(err)))

	assert.Equal(t, int32(2), tracker.started.Load())
	assert.Equal(t, int32(1), tracker.done.Load())
}
