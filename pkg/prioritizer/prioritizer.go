// Package prioritizer contains the core domain types for the Zendesk ticket prioritizer.
package prioritizer

import "time"

// Ticket is a Zendesk ticket as returned by the views API, augmented with
// fields derived from its audit history.
type Ticket struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"` // low, normal, high, urgent or empty
	URL         string    `json:"url"`
	Tags        []string  `json:"tags,omitempty"`
	ID          int64     `json:"id"`
	RequesterID int64     `json:"requester_id"`
	SubmitterID int64     `json:"submitter_id"`
	AssigneeID  int64     `json:"assignee_id"`

	// Derived from audits on every refresh.
	LastComment          *Comment `json:"_lastComment"`
	LastPublicUpdateByMe *Comment `json:"_lastPublicUpdateByMe"`
}

// User is a Zendesk user.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	ID    int64  `json:"id"`
}

// View is a saved ticket filter.
type View struct {
	Title    string `json:"title"`
	ID       int64  `json:"id"`
	Active   *bool  `json:"active,omitempty"`
	Position int    `json:"position"`
}

// IsActive reports whether the view is usable. Views that omit the flag count as active.
func (v *View) IsActive() bool {
	return v.Active == nil || *v.Active
}

// Audit is one entry in a ticket's event history.
type Audit struct {
	CreatedAt time.Time `json:"created_at"`
	Events    []*Event  `json:"events"`
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	AuthorID  int64     `json:"author_id"`
}

// Event is a single change inside an audit (a comment, a status change, ...).
type Event struct {
	Type      string `json:"type"`
	Body      string `json:"body"`
	HTMLBody  string `json:"html_body"`
	PlainBody string `json:"plain_body"`
	ID        int64  `json:"id"`
	AuthorID  int64  `json:"author_id"`
	Public    bool   `json:"public"`
}

// Comment is a comment event stamped with the creation time of the audit it belongs to.
type Comment struct {
	CreatedAt time.Time `json:"created_at"`
	Body      string    `json:"body"`
	HTMLBody  string    `json:"html_body,omitempty"`
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Public    bool      `json:"public"`
}

// Notification is a desktop-style alert about tickets in a watched view.
type Notification struct {
	CreatedAt      time.Time `json:"created_at"`
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	ContextMessage string    `json:"context_message"`
	LinkURL        string    `json:"link_url,omitempty"`
	ViewID         int64     `json:"view_id,omitempty"`
	TicketCount    int       `json:"ticket_count"`
}

// Broadcast message types pushed to connected listeners.
const (
	MessageProgress = "progress"
	MessageLoading  = "loading"
	MessageError    = "error"
	MessageRefresh  = "refresh"
)

// PortMessage is a message pushed from the background to UI listeners.
type PortMessage struct {
	Type  string  `json:"type"`
	Error string  `json:"error,omitempty"`
	Value float64 `json:"value"`
}
