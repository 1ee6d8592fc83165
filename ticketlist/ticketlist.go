// Package ticketlist turns the ticket model into the prioritized rows shown to the agent.
package ticketlist

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"

	"zendesk-prioritizer/model"
	"zendesk-prioritizer/pkg/prioritizer"
)

// EmptyMessage is shown instead of rows when the view has no tickets.
const EmptyMessage = "No tickets in view"

const (
	maxSubject = 100
	maxComment = 152
)

// Row is one rendered ticket.
type Row struct {
	LastCommentAt  *time.Time `json:"lastCommentAt,omitempty"`
	Subject        string     `json:"subject"`
	Priority       string     `json:"priority"`
	Comment        string     `json:"comment"`
	Requester      string     `json:"requester"`
	ID             int64      `json:"id"`
	RespondedToday bool       `json:"respondedToday"`
	Starred        bool       `json:"starred"`
}

// List is the popup content.
type List struct {
	Rows []Row `json:"rows"`

	// Hidden is set while a refresh is running or the model is in error.
	Hidden bool `json:"hidden"`
}

// Empty reports whether there is nothing to show.
func (l List) Empty() bool {
	return !l.Hidden && len(l.Rows) == 0
}

// day is the window a timestamp must fall strictly inside to count as today.
type day struct {
	start, end time.Time
}

func today(now time.Time) day {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, now.Location())
	return day{start: start, end: end}
}

func (d day) contains(c *prioritizer.Comment) bool {
	return c != nil && d.start.Before(c.CreatedAt) && c.CreatedAt.Before(d.end)
}

// Build orders the snapshot's tickets: tickets without a comment today come
// first, then starred tickets, then the ones I answered longest ago.
func Build(snap model.Snapshot, now time.Time) List {
	if snap.CurrentlyMakingRequest || snap.ErrorState {
		return List{Hidden: true}
	}

	tickets := make([]*prioritizer.Ticket, 0, len(snap.Tickets))
	for _, t := range snap.Tickets {
		tickets = append(tickets, t)
	}
	// Map order is random; start from a stable order so ties are deterministic.
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })

	d := today(now)
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if ra, rb := d.contains(a.LastComment), d.contains(b.LastComment); ra != rb {
			return rb
		}
		if sa, sb := slices.Contains(snap.Starred, a.ID), slices.Contains(snap.Starred, b.ID); sa != sb {
			return sa
		}
		return waitSince(a).Before(waitSince(b))
	})

	rows := make([]Row, 0, len(tickets))
	for _, t := range tickets {
		row := Row{
			ID:             t.ID,
			Subject:        truncate(t.Subject, maxSubject),
			Priority:       t.Priority,
			RespondedToday: d.contains(t.LastPublicUpdateByMe),
			Starred:        slices.Contains(snap.Starred, t.ID),
			Comment:        commentPreview(t.LastComment, now),
		}
		if t.LastComment != nil {
			at := t.LastComment.CreatedAt
			row.LastCommentAt = &at
		}
		if u := snap.Users[t.RequesterID]; u != nil {
			row.Requester = u.Name
		}
		rows = append(rows, row)
	}
	return List{Rows: rows}
}

// waitSince is when I last answered publicly. Never answered sorts as the oldest.
func waitSince(t *prioritizer.Ticket) time.Time {
	if t.LastPublicUpdateByMe == nil {
		return time.Unix(0, 0)
	}
	return t.LastPublicUpdateByMe.CreatedAt
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit-1]) + "..."
	}
	return s
}

func commentPreview(c *prioritizer.Comment, now time.Time) string {
	var body, rel string
	if c != nil {
		body = CommentText(c)
		if !c.CreatedAt.IsZero() {
			rel = humanize.RelTime(c.CreatedAt, now, "ago", "from now")
		}
	}

	r := []rune(body)
	if len(r) > maxComment {
		return string(r[:maxComment-1]) + "... [" + rel + "]"
	}
	return body + " [" + rel + "]"
}

// CommentText returns the comment's plain text, extracting it from the HTML
// body when no plain body was sent.
func CommentText(c *prioritizer.Comment) string {
	if c.Body != "" || c.HTMLBody == "" {
		return c.Body
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(c.HTMLBody))
	if err != nil {
		return ""
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}
