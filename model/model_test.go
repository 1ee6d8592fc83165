package model

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/storage"
)

func newModel(t *testing.T) (*Model, *storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.New(storage.NewMemory(), logger)
	return New(store, logger), store
}

func TestToggleStarPersists(t *testing.T) {
	ctx := context.Background()
	m, store := newModel(t)

	starred, err := m.ToggleStar("42")
	require.NoError(t, err)
	assert.True(t, starred)
	starred, err = m.ToggleStar(" 7 ")
	require.NoError(t, err)
	assert.True(t, starred)
	assert.Equal(t, []int64{42, 7}, m.Starred())

	starred, err = m.ToggleStar("42")
	require.NoError(t, err)
	assert.False(t, starred)
	assert.Equal(t, []int64{7}, m.Starred())

	_, err = m.ToggleStar("abc")
	assert.Error(t, err)

	require.NoError(t, m.Save(ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reloaded := New(store, logger)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []int64{7}, reloaded.Starred())
}

func TestLoadWithoutStoredStars(t *testing.T) {
	m, _ := newModel(t)
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, []int64{}, m.Starred())
}

func TestReplaceIsWholesale(t *testing.T) {
	m, _ := newModel(t)
	m.Replace([]*prioritizer.Ticket{{ID: 1}, {ID: 2}}, map[int64]*prioritizer.User{5: {ID: 5, Name: "Ann"}})
	m.Replace([]*prioritizer.Ticket{{ID: 3}}, nil)

	snap := m.Snapshot()
	assert.Len(t, snap.Tickets, 1)
	assert.Contains(t, snap.Tickets, int64(3))
	assert.Empty(t, snap.Users)
}

func TestRequestLifecycle(t *testing.T) {
	m, _ := newModel(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	assert.Nil(t, m.Snapshot().LastUpdated)

	m.Failed("404: Not Found. Check your Domain and View ID")
	snap := m.Snapshot()
	assert.True(t, snap.ErrorState)
	assert.Equal(t, "404: Not Found. Check your Domain and View ID", snap.LastError)

	m.BeginRequest()
	snap = m.Snapshot()
	assert.True(t, snap.CurrentlyMakingRequest)
	assert.False(t, snap.ErrorState)
	assert.Empty(t, snap.LastError, "a new refresh clears the previous error")
	assert.True(t, m.MakingRequest())

	m.Succeeded()
	snap = m.Snapshot()
	assert.False(t, snap.CurrentlyMakingRequest)
	require.NotNil(t, snap.LastUpdated)
	assert.Equal(t, now, *snap.LastUpdated)
}

func TestProgress(t *testing.T) {
	m, _ := newModel(t)
	assert.Equal(t, 0.0, m.Progress())

	assert.Equal(t, 5.0, m.RequestStarted(), "single request shows the minimum")
	assert.Equal(t, 5.0, m.RequestStarted(), "0 of 2 is clamped to the minimum")
	for range 18 {
		m.RequestStarted()
	}

	v, show := m.RequestDone()
	assert.True(t, show)
	assert.Equal(t, 5.0, v)

	for range 9 {
		m.RequestDone()
	}
	assert.Equal(t, 50.0, m.Progress())

	for range 9 {
		_, show = m.RequestDone()
		assert.True(t, show)
	}
	_, show = m.RequestDone()
	assert.False(t, show, "reaching 100 is left to the completion message")

	m.ResetProgress()
	assert.Equal(t, 0.0, m.Progress())
	snap := m.Snapshot()
	assert.Zero(t, snap.NumRequestsTotal)
	assert.Zero(t, snap.NumRequestsDone)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m, _ := newModel(t)
	m.Replace([]*prioritizer.Ticket{{
		ID:          1,
		Subject:     "Printer on fire",
		Tags:        []string{"hardware"},
		LastComment: &prioritizer.Comment{Body: "original"},
	}}, map[int64]*prioritizer.User{9: {ID: 9, Name: "Ann"}})

	snap := m.Snapshot()
	snap.Tickets[1].Subject = "changed"
	snap.Tickets[1].Tags[0] = "changed"
	snap.Tickets[1].LastComment.Body = "changed"
	snap.Users[9].Name = "changed"

	again := m.Snapshot()
	assert.Equal(t, "Printer on fire", again.Tickets[1].Subject)
	assert.Equal(t, []string{"hardware"}, again.Tickets[1].Tags)
	assert.Equal(t, "original", again.Tickets[1].LastComment.Body)
	assert.Equal(t, "Ann", again.Users[9].Name)
}
