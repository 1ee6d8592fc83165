package ticketlist

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zendesk-prioritizer/model"
	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/settings"
)

var now = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

func at(d time.Duration) *prioritizer.Comment {
	return &prioritizer.Comment{CreatedAt: now.Add(d), Body: "body"}
}

func ids(l List) []int64 {
	out := make([]int64, 0, len(l.Rows))
	for _, r := range l.Rows {
		out = append(out, r.ID)
	}
	return out
}

func TestBuildOrdering(t *testing.T) {
	yesterday := -30 * time.Hour
	snap := model.Snapshot{
		Tickets: map[int64]*prioritizer.Ticket{
			// Commented today: sinks to the bottom regardless of stars.
			1: {ID: 1, LastComment: at(-time.Hour), LastPublicUpdateByMe: at(-time.Hour)},
			// Not commented today, starred.
			2: {ID: 2, LastComment: at(yesterday), LastPublicUpdateByMe: at(-50 * time.Hour)},
			// Not commented today, never answered by me: oldest wait.
			3: {ID: 3, LastComment: at(yesterday)},
			// Not commented today, answered two days ago.
			4: {ID: 4, LastComment: at(yesterday), LastPublicUpdateByMe: at(-48 * time.Hour)},
			// No comment at all counts as not today.
			5: {ID: 5, LastPublicUpdateByMe: at(-72 * time.Hour)},
			// Commented today and starred.
			6: {ID: 6, LastComment: at(-2 * time.Hour)},
		},
		Starred: []int64{2, 1},
	}

	got := Build(snap, now)
	assert.Equal(t, []int64{2, 3, 5, 4, 1, 6}, ids(got))
}

func TestBuildRowFields(t *testing.T) {
	snap := model.Snapshot{
		Tickets: map[int64]*prioritizer.Ticket{
			7: {
				ID:                   7,
				Subject:              strings.Repeat("s", 101),
				Priority:             "high",
				RequesterID:          50,
				LastComment:          &prioritizer.Comment{CreatedAt: now.Add(-3 * time.Hour), Body: strings.Repeat("c", 153)},
				LastPublicUpdateByMe: at(-3 * time.Hour),
			},
			8: {ID: 8, Subject: "short", LastComment: &prioritizer.Comment{CreatedAt: now.Add(-2 * time.Hour), Body: "Thanks!"}},
			9: {ID: 9, Subject: "no comments"},
		},
		Users:   map[int64]*prioritizer.User{50: {ID: 50, Name: "Ann"}},
		Starred: []int64{7},
	}

	rows := Build(snap, now).Rows
	require.Len(t, rows, 3)
	byID := map[int64]Row{}
	for _, r := range rows {
		byID[r.ID] = r
	}

	r := byID[7]
	assert.Equal(t, strings.Repeat("s", 99)+"...", r.Subject)
	assert.Equal(t, strings.Repeat("c", 151)+"... [3 hours ago]", r.Comment)
	assert.True(t, r.RespondedToday)
	assert.True(t, r.Starred)
	assert.Equal(t, "high", r.Priority)
	assert.Equal(t, "Ann", r.Requester)
	require.NotNil(t, r.LastCommentAt)

	assert.Equal(t, "short", byID[8].Subject)
	assert.Equal(t, "Thanks! [2 hours ago]", byID[8].Comment)
	assert.False(t, byID[8].RespondedToday)
	assert.Empty(t, byID[8].Requester)

	assert.Equal(t, " []", byID[9].Comment)
	assert.Nil(t, byID[9].LastCommentAt)
}

func TestBuildBoundaries(t *testing.T) {
	subject100 := strings.Repeat("x", 100)
	comment152 := strings.Repeat("y", 152)
	snap := model.Snapshot{Tickets: map[int64]*prioritizer.Ticket{
		1: {ID: 1, Subject: subject100, LastComment: &prioritizer.Comment{Body: comment152}},
	}}

	row := Build(snap, now).Rows[0]
	assert.Equal(t, subject100, row.Subject)
	assert.Equal(t, comment152+" []", row.Comment)
}

func TestBuildHiddenAndEmpty(t *testing.T) {
	assert.True(t, Build(model.Snapshot{CurrentlyMakingRequest: true}, now).Hidden)
	assert.True(t, Build(model.Snapshot{ErrorState: true}, now).Hidden)

	empty := Build(model.Snapshot{}, now)
	assert.True(t, empty.Empty())
	assert.Contains(t, Render(empty), EmptyMessage)
	assert.Empty(t, Render(List{Hidden: true}))
}

func TestTodayWindow(t *testing.T) {
	d := today(now)
	assert.False(t, d.contains(&prioritizer.Comment{CreatedAt: d.start}), "midnight itself is excluded")
	assert.True(t, d.contains(&prioritizer.Comment{CreatedAt: d.start.Add(time.Second)}))
	assert.False(t, d.contains(&prioritizer.Comment{CreatedAt: time.Date(2024, 6, 12, 23, 59, 30, 0, time.UTC)}))
	assert.False(t, d.contains(nil))
}

func TestCommentTextFromHTML(t *testing.T) {
	c := &prioritizer.Comment{HTMLBody: "<p>Hello <b>there</b><br>second line</p>"}
	assert.Equal(t, "Hello there\nsecond line", CommentText(c))

	c = &prioritizer.Comment{Body: "plain wins", HTMLBody: "<p>html</p>"}
	assert.Equal(t, "plain wins", CommentText(c))
}

func TestRenderRows(t *testing.T) {
	out := Render(List{Rows: []Row{{ID: 42, Subject: "Printer on fire", Priority: "urgent", Comment: "hot [now]", Requester: "Ann", Starred: true}}})
	assert.Contains(t, out, "#42")
	assert.Contains(t, out, "Printer on fire")
	assert.Contains(t, out, "Ann")
	assert.Contains(t, out, "★")
}

func viewPtr(v int64) *int64 { return &v }

func TestFilterViews(t *testing.T) {
	inactive := false
	views := []*prioritizer.View{
		{ID: 1, Title: "Mine"},
		{ID: 2, Title: "Team"},
		{ID: 3, Title: "Old", Active: &inactive},
		{ID: 4},
	}

	p := FilterViews(views, settings.Settings{ZendeskDomain: "acme"})
	assert.False(t, p.Disabled)
	assert.Equal(t, []ViewOption{{ID: 1, Title: "Mine"}, {ID: 2, Title: "Team"}, {ID: 4, Title: "4"}}, p.Options)

	p = FilterViews(views, settings.Settings{ZendeskDomain: "acme", ViewFilterIDs: []int64{1}, ViewID: viewPtr(2)})
	assert.Equal(t, []ViewOption{{ID: 1, Title: "Mine"}, {ID: 2, Title: "Team", Selected: true}}, p.Options,
		"the current view survives the filter")

	p = FilterViews(views, settings.Settings{ViewID: viewPtr(99)})
	assert.True(t, p.Disabled)
	assert.Equal(t, ViewOption{ID: 99, Title: "99", Selected: true}, p.Options[len(p.Options)-1])

	p = FilterViews(views, settings.Settings{ZendeskDomain: "acme", ViewID: viewPtr(3)})
	assert.Equal(t, ViewOption{ID: 3, Title: "3", Selected: true}, p.Options[len(p.Options)-1],
		"an inactive current view is kept by id")
}
