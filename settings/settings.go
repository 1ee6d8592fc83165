// Package settings holds the user's Zendesk configuration and persists it as a flat key/value blob.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"zendesk-prioritizer/storage"
)

const (
	// Key is the storage key settings are persisted under.
	Key = "settings"

	// DefaultPollInterval is used when no valid interval is configured (minutes).
	DefaultPollInterval = 5

	// MaxNotifyViews is how many watched views the poller checks.
	MaxNotifyViews = 3
)

// Settings is the persisted configuration.
type Settings struct {
	UserID        *int64  `json:"userID"`
	ViewID        *int64  `json:"viewID"`
	ZendeskDomain string  `json:"zendeskDomain"`
	ViewFilterIDs []int64 `json:"viewFilterIds"`
	NotifyViewIDs []int64 `json:"notifyViewIds"`
	PollInterval  int     `json:"pollInterval"`
}

// Default returns settings with every field at its default.
func Default() Settings {
	return Settings{
		ViewFilterIDs: []int64{},
		NotifyViewIDs: []int64{},
		PollInterval:  DefaultPollInterval,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	if s.UserID != nil {
		v := *s.UserID
		c.UserID = &v
	}
	if s.ViewID != nil {
		v := *s.ViewID
		c.ViewID = &v
	}
	c.ViewFilterIDs = append([]int64{}, s.ViewFilterIDs...)
	c.NotifyViewIDs = append([]int64{}, s.NotifyViewIDs...)
	return c
}

// WatchedViews returns the notify views the poller checks, in order, capped at MaxNotifyViews.
func (s Settings) WatchedViews() []int64 {
	ids := make([]int64, 0, MaxNotifyViews)
	for _, id := range s.NotifyViewIDs {
		if len(ids) == MaxNotifyViews {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

// ViewAllowed reports whether a view passes the view filter. An empty filter allows everything.
func (s Settings) ViewAllowed(viewID int64) bool {
	return len(s.ViewFilterIDs) == 0 || slices.Contains(s.ViewFilterIDs, viewID)
}

// Update is untrusted settings input, as sent by the options page or the CLI,
// and also the shape read back from storage.
type Update struct {
	ZendeskDomain string     `json:"zendeskDomain"`
	UserID        FlexID     `json:"userID"`
	ViewID        FlexID     `json:"viewID"`
	PollInterval  FlexID     `json:"pollInterval"`
	ViewFilterIDs FlexIDList `json:"viewFilterIds"`
	NotifyViewIDs FlexIDList `json:"notifyViewIds"`

	// NotifyViewID is the legacy single watched view.
	NotifyViewID FlexID `json:"notifyViewID"`
}

// UpdateFrom converts settings back into an Update that reproduces them.
func UpdateFrom(s Settings) Update {
	u := Update{
		ZendeskDomain: s.ZendeskDomain,
		ViewFilterIDs: IDs(s.ViewFilterIDs...),
		NotifyViewIDs: IDs(s.NotifyViewIDs...),
		PollInterval:  ID(int64(s.PollInterval)),
	}
	if s.UserID != nil {
		u.UserID = ID(*s.UserID)
	}
	if s.ViewID != nil {
		u.ViewID = ID(*s.ViewID)
	}
	return u
}

// Normalize applies an update on top of prev. The view filter is only
// replaced when the update carries one.
func Normalize(u Update, prev Settings) Settings {
	next := Settings{
		ZendeskDomain: strings.TrimSpace(u.ZendeskDomain),
		UserID:        u.UserID.Ptr(),
		ViewID:        u.ViewID.Ptr(),
		PollInterval:  DefaultPollInterval,
		ViewFilterIDs: append([]int64{}, prev.ViewFilterIDs...),
	}

	switch {
	case u.NotifyViewIDs.Present:
		next.NotifyViewIDs = append([]int64{}, u.NotifyViewIDs.IDs...)
	case u.NotifyViewID.Valid:
		next.NotifyViewIDs = []int64{u.NotifyViewID.Value}
	default:
		next.NotifyViewIDs = []int64{}
	}

	if u.PollInterval.Valid {
		next.PollInterval = int(u.PollInterval.Value)
	}

	if u.ViewFilterIDs.Present {
		next.ViewFilterIDs = append([]int64{}, u.ViewFilterIDs.IDs...)
	}

	return next
}

// Store is the persistence the manager needs.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
}

// Manager owns the current settings.
type Manager struct {
	store    Store
	logger   *slog.Logger
	onSave   []func(Settings)
	current  Settings
	defaults Settings
	mu       sync.RWMutex
}

// NewManager creates a settings manager. defaults seed the settings when nothing is stored.
func NewManager(store Store, defaults Settings, logger *slog.Logger) *Manager {
	d := Normalize(UpdateFrom(defaults), Default())
	return &Manager{
		store:    store,
		logger:   logger,
		current:  d.Clone(),
		defaults: d,
	}
}

// OnSave registers a hook that runs after every successful save.
func (m *Manager) OnSave(fn func(Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSave = append(m.onSave, fn)
}

// Load reads persisted settings, falling back to defaults when none exist.
func (m *Manager) Load(ctx context.Context) error {
	var u Update
	err := m.store.Load(ctx, Key, &u)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("load settings: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if storage.IsNotFound(err) {
		m.current = m.defaults.Clone()
		m.logger.Info("No stored settings, using defaults", "domain", m.current.ZendeskDomain)
		return nil
	}
	m.current = Normalize(u, Default())
	return nil
}

// Current returns a copy of the current settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Apply normalizes an update against the current settings and saves the result.
func (m *Manager) Apply(ctx context.Context, u Update) (Settings, error) {
	next := Normalize(u, m.Current())
	if err := m.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}

// Save persists s as the current settings and runs save hooks.
func (m *Manager) Save(ctx context.Context, s Settings) error {
	s = s.Clone()
	if err := m.store.Save(ctx, Key, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	m.mu.Lock()
	m.current = s
	hooks := append([]func(Settings){}, m.onSave...)
	m.mu.Unlock()

	m.logger.Info("Settings saved",
		"domain", s.ZendeskDomain,
		"view_id", deref(s.ViewID),
		"user_id", deref(s.UserID),
		"notify_views", len(s.NotifyViewIDs),
		"poll_interval", s.PollInterval)

	for _, hook := range hooks {
		hook(s.Clone())
	}
	return nil
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
