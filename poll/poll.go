// Package poll watches Zendesk views and notifies about tickets that appear in them.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"zendesk-prioritizer/launch"
	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/settings"
	"zendesk-prioritizer/storage"
)

// SeenKey is the storage key of the per-view seen ticket ids.
const SeenKey = "notifySeen"

const maxContextLength = 120 // longer descriptions are cut to 117 characters plus "..."

// Client fetches view contents and users.
type Client interface {
	ViewTickets(ctx context.Context, domain string, viewID int64) ([]*prioritizer.Ticket, error)
	User(ctx context.Context, domain string, userID int64) (*prioritizer.User, error)
}

// Store interface for seen-map persistence.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n *prioritizer.Notification) error
}

// Settings provides the current configuration.
type Settings interface {
	Current() settings.Settings
}

// Monitor handles view polling logic.
type Monitor struct {
	client       Client
	store        Store
	notifier     Notifier
	settings     Settings
	logger       *slog.Logger
	now          func() time.Time
	lastNotified atomic.Int64
	mu           sync.Mutex
}

// New creates a new poll monitor.
func New(client Client, store Store, notifier Notifier, s Settings, logger *slog.Logger) *Monitor {
	return &Monitor{
		client:   client,
		store:    store,
		notifier: notifier,
		settings: s,
		logger:   logger,
		now:      time.Now,
	}
}

// LastNotifiedView returns the view of the most recent notification.
func (m *Monitor) LastNotifiedView() (int64, bool) {
	id := m.lastNotified.Load()
	return id, id != 0
}

// CheckAll checks the watched views for new tickets. The first time a view is
// seen its tickets are recorded silently. A failing view aborts the pass
// without saving anything.
func (m *Monitor) CheckAll(ctx context.Context) error {
	// Passes must not interleave or the seen map would lose writes.
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.settings.Current()
	views := s.WatchedViews()
	if len(views) == 0 || s.ZendeskDomain == "" {
		m.logger.Debug("Nothing to poll", "views", len(views), "domain", s.ZendeskDomain)
		return nil
	}

	seen, err := m.loadSeen(ctx)
	if err != nil {
		return err
	}

	m.logger.Info("Checking watched views", "count", len(views), "timestamp", m.now().Format(time.RFC3339))

	var notified int
	for _, viewID := range views {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping poll check", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		tickets, err := m.client.ViewTickets(ctx, s.ZendeskDomain, viewID)
		if err != nil {
			m.logger.Warn("Error polling monitored view", "view_id", viewID, "error", err)
			return fmt.Errorf("poll view %d: %w", viewID, err)
		}

		key := strconv.FormatInt(viewID, 10)
		current := ticketIDs(tickets)
		previous, ok := seen.ids(key)
		seen[key] = current

		if !ok {
			m.logger.Info("Initial ticket ids recorded", "view_id", viewID, "tickets", len(current))
			continue
		}

		fresh := newTickets(tickets, previous)
		if len(fresh) == 0 {
			continue
		}

		m.logger.Info("New tickets detected", "view_id", viewID, "count", len(fresh), "first_ticket_id", fresh[0].ID)
		n := m.buildNotification(ctx, s.ZendeskDomain, viewID, fresh)
		if err := m.notifier.Notify(ctx, n); err != nil {
			m.logger.Warn("Notification delivery failed", "view_id", viewID, "id", n.ID, "error", err)
		}
		m.lastNotified.Store(viewID)
		notified++
	}

	if err := m.store.Save(ctx, SeenKey, seen); err != nil {
		return fmt.Errorf("save seen tickets: %w", err)
	}

	m.logger.Info("View check completed", "views", len(views), "notifications", notified)
	return nil
}

func (m *Monitor) buildNotification(ctx context.Context, domain string, viewID int64, fresh []*prioritizer.Ticket) *prioritizer.Notification {
	first := fresh[0]
	word := "tickets"
	if len(fresh) == 1 {
		word = "ticket"
	}

	return &prioritizer.Notification{
		CreatedAt:      m.now(),
		ID:             "notify_" + uuid.NewString(),
		Title:          fmt.Sprintf("%d new %s in monitored view", len(fresh), word),
		Message:        "Submitter: " + m.submitterName(ctx, domain, first),
		ContextMessage: ContextMessage(first),
		LinkURL:        launch.URL(domain, viewID, true),
		ViewID:         viewID,
		TicketCount:    len(fresh),
	}
}

// submitterName looks up who submitted the ticket. Lookup failures are not errors.
func (m *Monitor) submitterName(ctx context.Context, domain string, t *prioritizer.Ticket) string {
	id := t.SubmitterID
	if id == 0 {
		id = t.RequesterID
	}
	if id == 0 {
		return "Unknown"
	}

	u, err := m.client.User(ctx, domain, id)
	if err != nil {
		m.logger.Debug("Submitter lookup failed", "user_id", id, "error", err)
		return "Unknown"
	}
	if u == nil || u.Name == "" {
		return "Unknown"
	}
	return u.Name
}

// ContextMessage is the ticket description (or subject) on one line, cut to fit a notification.
func ContextMessage(t *prioritizer.Ticket) string {
	text := t.Description
	if text == "" {
		text = t.Subject
	}
	text = strings.Join(strings.Fields(text), " ")

	r := []rune(text)
	if len(r) > maxContextLength {
		return string(r[:maxContextLength-3]) + "..."
	}
	return text
}

func ticketIDs(tickets []*prioritizer.Ticket) []int64 {
	ids := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	return ids
}

func newTickets(tickets []*prioritizer.Ticket, previous []int64) []*prioritizer.Ticket {
	known := make(map[int64]bool, len(previous))
	for _, id := range previous {
		known[id] = true
	}
	var fresh []*prioritizer.Ticket
	for _, t := range tickets {
		if !known[t.ID] {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// seenMap holds the stored ids per view. Entries for views no longer
// watched are kept as stored.
type seenMap map[string]any

func (s seenMap) ids(key string) ([]int64, bool) {
	switch v := s[key].(type) {
	case []int64:
		return v, true
	case json.RawMessage:
		var ids []int64
		if err := json.Unmarshal(v, &ids); err != nil || ids == nil {
			return nil, false
		}
		return ids, true
	default:
		return nil, false
	}
}

func (m *Monitor) loadSeen(ctx context.Context) (seenMap, error) {
	var raw map[string]json.RawMessage
	err := m.store.Load(ctx, SeenKey, &raw)
	switch {
	case storage.IsNotFound(err):
		return seenMap{}, nil
	case err != nil:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			m.logger.Warn("Stored seen tickets are malformed, starting over", "error", err)
			return seenMap{}, nil
		}
		return nil, fmt.Errorf("load seen tickets: %w", err)
	}

	seen := make(seenMap, len(raw))
	for k, v := range raw {
		seen[k] = v
	}
	return seen, nil
}
