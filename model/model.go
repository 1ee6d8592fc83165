// Package model holds the in-memory ticket view model rebuilt on every refresh.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/storage"
)

// StarredKey is the storage key starred ticket ids are persisted under.
const StarredKey = "starred"

// minProgress is the smallest progress shown once any request is counted.
const minProgress = 5

// Store is the persistence the model needs.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
}

// Snapshot is a point-in-time copy of the model.
type Snapshot struct {
	LastUpdated            *time.Time                    `json:"lastUpdated"`
	Tickets                map[int64]*prioritizer.Ticket `json:"tickets"`
	Users                  map[int64]*prioritizer.User   `json:"users"`
	Starred                []int64                       `json:"starred"`
	NumRequestsTotal       int                           `json:"numRequestsTotal"`
	NumRequestsDone        int                           `json:"numRequestsDone"`
	CurrentlyMakingRequest bool                          `json:"currentlyMakingRequest"`
	ErrorState             bool                          `json:"errorState"`
	LastError              string                        `json:"lastError,omitempty"`
}

// Model is the ticket cache shared by the orchestrator and the UI surfaces.
type Model struct {
	lastUpdated            time.Time
	store                  Store
	logger                 *slog.Logger
	now                    func() time.Time
	lastError              string
	tickets                map[int64]*prioritizer.Ticket
	users                  map[int64]*prioritizer.User
	starred                []int64
	numRequestsTotal       int
	numRequestsDone        int
	mu                     sync.RWMutex
	currentlyMakingRequest bool
	errorState             bool
}

// New creates an empty model.
func New(store Store, logger *slog.Logger) *Model {
	return &Model{
		store:   store,
		logger:  logger,
		now:     time.Now,
		tickets: make(map[int64]*prioritizer.Ticket),
		users:   make(map[int64]*prioritizer.User),
		starred: []int64{},
	}
}

// Load restores starred ticket ids.
func (m *Model) Load(ctx context.Context) error {
	var starred []int64
	if err := m.store.Load(ctx, StarredKey, &starred); err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load starred: %w", err)
	}
	if starred == nil {
		starred = []int64{}
	}
	m.mu.Lock()
	m.starred = starred
	m.mu.Unlock()
	return nil
}

// Save persists starred ticket ids.
func (m *Model) Save(ctx context.Context) error {
	starred := m.Starred()
	if err := m.store.Save(ctx, StarredKey, starred); err != nil {
		return fmt.Errorf("save starred: %w", err)
	}
	return nil
}

// ToggleStar stars or un-stars a ticket given its id as a base-10 string.
func (m *Model) ToggleStar(ticketID string) (bool, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(ticketID), 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid ticket id %q", ticketID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if i := slices.Index(m.starred, id); i >= 0 {
		m.starred = slices.Delete(m.starred, i, i+1)
		return false, nil
	}
	m.starred = append(m.starred, id)
	return true, nil
}

// Starred returns a copy of the starred ids.
func (m *Model) Starred() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64{}, m.starred...)
}

// Replace swaps in a freshly fetched set of tickets and users.
func (m *Model) Replace(tickets []*prioritizer.Ticket, users map[int64]*prioritizer.User) {
	byID := make(map[int64]*prioritizer.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}
	if users == nil {
		users = make(map[int64]*prioritizer.User)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = byID
	m.users = users
}

// BeginRequest marks a refresh in flight and clears the error flag.
func (m *Model) BeginRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentlyMakingRequest = true
	m.errorState = false
	m.lastError = ""
}

// Succeeded marks the refresh complete and stamps lastUpdated.
func (m *Model) Succeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentlyMakingRequest = false
	m.errorState = false
	m.lastError = ""
	m.lastUpdated = m.now()
}

// Failed marks the model as being in error. msg is the text shown to the user
// until the next refresh starts.
func (m *Model) Failed(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentlyMakingRequest = false
	m.errorState = true
	m.lastError = msg
}

// Touch stamps lastUpdated without changing anything else.
func (m *Model) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUpdated = m.now()
}

// MakingRequest reports whether a refresh is in flight.
func (m *Model) MakingRequest() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentlyMakingRequest
}

// RequestStarted counts a tracked request and returns the progress to show.
func (m *Model) RequestStarted() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numRequestsTotal++
	return m.progressLocked()
}

// RequestDone counts a completed request. show is false once progress reaches 100,
// leaving the final value to ResetProgress.
func (m *Model) RequestDone() (value float64, show bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numRequestsDone++
	if m.numRequestsTotal == 0 {
		return 0, false
	}
	if float64(m.numRequestsDone)/float64(m.numRequestsTotal)*100 >= 100 {
		return 0, false
	}
	return m.progressLocked(), true
}

// ResetProgress clears the request counters.
func (m *Model) ResetProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numRequestsTotal = 0
	m.numRequestsDone = 0
}

// Progress returns the current progress percentage.
func (m *Model) Progress() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progressLocked()
}

func (m *Model) progressLocked() float64 {
	switch {
	case m.numRequestsTotal > 1:
		p := float64(m.numRequestsDone) / float64(m.numRequestsTotal) * 100
		if p > minProgress {
			return p
		}
		return minProgress
	case m.numRequestsTotal == 1:
		return minProgress
	default:
		return 0
	}
}

// Snapshot returns a deep copy of the model.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Tickets:                make(map[int64]*prioritizer.Ticket, len(m.tickets)),
		Users:                  make(map[int64]*prioritizer.User, len(m.users)),
		Starred:                append([]int64{}, m.starred...),
		NumRequestsTotal:       m.numRequestsTotal,
		NumRequestsDone:        m.numRequestsDone,
		CurrentlyMakingRequest: m.currentlyMakingRequest,
		ErrorState:             m.errorState,
		LastError:              m.lastError,
	}
	if !m.lastUpdated.IsZero() {
		t := m.lastUpdated
		snap.LastUpdated = &t
	}
	for id, t := range m.tickets {
		snap.Tickets[id] = copyTicket(t)
	}
	for id, u := range m.users {
		c := *u
		snap.Users[id] = &c
	}
	return snap
}

func copyTicket(t *prioritizer.Ticket) *prioritizer.Ticket {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	if t.LastComment != nil {
		lc := *t.LastComment
		c.LastComment = &lc
	}
	if t.LastPublicUpdateByMe != nil {
		lp := *t.LastPublicUpdateByMe
		c.LastPublicUpdateByMe = &lp
	}
	return &c
}
