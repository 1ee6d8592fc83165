// Package refresh rebuilds the ticket model from the configured Zendesk view.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"zendesk-prioritizer/events"
	"zendesk-prioritizer/model"
	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/settings"
	"zendesk-prioritizer/zendesk"
)

var (
	// ErrInFlight is returned when a refresh is requested while one is running.
	ErrInFlight = errors.New("refresh already in flight")

	// ErrPreflight wraps the reason a refresh could not start.
	ErrPreflight = errors.New("refresh preconditions not met")
)

// Client is the subset of the Zendesk API a refresh needs.
type Client interface {
	ViewTickets(ctx context.Context, domain string, viewID int64) ([]*prioritizer.Ticket, error)
	AllTicketAudits(ctx context.Context, domain string, ticketID int64) ([]*prioritizer.Audit, error)
	User(ctx context.Context, domain string, userID int64) (*prioritizer.User, error)
}

// Settings provides the current configuration.
type Settings interface {
	Current() settings.Settings
}

// Broadcaster delivers messages to named listeners.
type Broadcaster interface {
	Send(name string, msg prioritizer.PortMessage)
}

// Orchestrator runs single-flight refreshes of the ticket model.
type Orchestrator struct {
	client   Client
	settings Settings
	model    *model.Model
	hub      Broadcaster
	logger   *slog.Logger
	inFlight atomic.Bool
}

// New creates a refresh orchestrator.
func New(client Client, s Settings, m *model.Model, hub Broadcaster, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client:   client,
		settings: s,
		model:    m,
		hub:      hub,
		logger:   logger,
	}
}

// Refresh fetches the configured view, every ticket's audits and every
// requester, then replaces the model. A call made while another refresh is
// running returns ErrInFlight without doing anything.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	s := o.settings.Current()
	if msg := preflight(s); msg != "" {
		o.model.Failed(msg)
		o.send(prioritizer.PortMessage{Type: prioritizer.MessageError, Error: msg})
		o.logger.Info("Refresh skipped", "reason", msg)
		return fmt.Errorf("%w: %s", ErrPreflight, msg)
	}

	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("Refresh already in flight, dropping request")
		return ErrInFlight
	}
	defer o.inFlight.Store(false)

	o.model.BeginRequest()
	o.send(prioritizer.PortMessage{Type: prioritizer.MessageLoading})

	start := time.Now()
	o.logger.Info("Refresh starting", "domain", s.ZendeskDomain, "view_id", *s.ViewID)

	// The refresh outlives the caller: a client going away must not cancel it.
	ctx = zendesk.WithTracker(context.WithoutCancel(ctx), tracker{o})
	tickets, users, err := o.fetch(ctx, s)
	if err != nil {
		msg := zendesk.ErrorMessage(zendesk.StatusOf(err))
		o.model.Failed(msg)
		o.allDone()
		o.send(prioritizer.PortMessage{Type: prioritizer.MessageError, Error: msg})
		o.logger.Warn("Refresh failed",
			"domain", s.ZendeskDomain,
			"view_id", *s.ViewID,
			"message", msg,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return fmt.Errorf("refresh view %d: %w", *s.ViewID, err)
	}

	o.model.Replace(tickets, users)
	o.model.Succeeded()
	o.send(prioritizer.PortMessage{Type: prioritizer.MessageRefresh})
	o.allDone()

	o.logger.Info("Refresh completed",
		"domain", s.ZendeskDomain,
		"view_id", *s.ViewID,
		"tickets", len(tickets),
		"users", len(users),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// InFlight reports whether a refresh is running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

func preflight(s settings.Settings) string {
	switch {
	case s.ZendeskDomain == "":
		return "No domain specified"
	case s.UserID == nil:
		return "No user ID specified"
	case s.ViewID == nil:
		return "No view ID specified"
	default:
		return ""
	}
}

func (o *Orchestrator) fetch(ctx context.Context, s settings.Settings) ([]*prioritizer.Ticket, map[int64]*prioritizer.User, error) {
	domain := s.ZendeskDomain
	tickets, err := o.client.ViewTickets(ctx, domain, *s.ViewID)
	if err != nil {
		return nil, nil, fmt.Errorf("get view tickets: %w", err)
	}

	users := make(map[int64]*prioritizer.User)
	if len(tickets) == 0 {
		return tickets, users, nil
	}

	audits := make([][]*prioritizer.Audit, len(tickets))
	requesters := make([]*prioritizer.User, len(tickets))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tickets {
		g.Go(func() error {
			a, err := o.client.AllTicketAudits(gctx, domain, t.ID)
			if err != nil {
				return fmt.Errorf("get audits for ticket %d: %w", t.ID, err)
			}
			audits[i] = a
			return nil
		})
		g.Go(func() error {
			u, err := o.client.User(gctx, domain, t.RequesterID)
			if err != nil {
				return fmt.Errorf("get requester %d: %w", t.RequesterID, err)
			}
			requesters[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for i, t := range tickets {
		t.LastComment = LastComment(audits[i])
		t.LastPublicUpdateByMe = LastPublicCommentBy(audits[i], *s.UserID)
		if u := requesters[i]; u != nil {
			users[u.ID] = u
		}
	}
	return tickets, users, nil
}

func (o *Orchestrator) send(msg prioritizer.PortMessage) {
	o.hub.Send(events.Popup, msg)
}

func (o *Orchestrator) allDone() {
	o.send(prioritizer.PortMessage{Type: prioritizer.MessageProgress, Value: 100})
	o.model.ResetProgress()
}

// tracker forwards request progress to the model and the popup.
type tracker struct {
	o *Orchestrator
}

func (t tracker) RequestStarted() {
	v := t.o.model.RequestStarted()
	t.o.send(prioritizer.PortMessage{Type: prioritizer.MessageProgress, Value: v})
}

func (t tracker) RequestDone() {
	if v, show := t.o.model.RequestDone(); show {
		t.o.send(prioritizer.PortMessage{Type: prioritizer.MessageProgress, Value: v})
	}
}

// LastComment returns the most recent comment in a ticket's audits.
func LastComment(audits []*prioritizer.Audit) *prioritizer.Comment {
	return searchAudits(audits, func(e *prioritizer.Event) bool {
		return e.Type == "Comment"
	})
}

// LastPublicCommentBy returns the most recent public comment authored by userID.
func LastPublicCommentBy(audits []*prioritizer.Audit, userID int64) *prioritizer.Comment {
	return searchAudits(audits, func(e *prioritizer.Event) bool {
		return e.Type == "Comment" && e.Public && e.AuthorID == userID
	})
}

// searchAudits walks audits newest first and returns the first matching
// event of the first audit that has one, stamped with that audit's time.
func searchAudits(audits []*prioritizer.Audit, match func(*prioritizer.Event) bool) *prioritizer.Comment {
	for i := len(audits) - 1; i >= 0; i-- {
		a := audits[i]
		if a == nil {
			continue
		}
		for _, e := range a.Events {
			if e == nil || !match(e) {
				continue
			}
			return &prioritizer.Comment{
				CreatedAt: a.CreatedAt,
				Body:      e.Body,
				HTMLBody:  e.HTMLBody,
				ID:        e.ID,
				AuthorID:  e.AuthorID,
				Public:    e.Public,
			}
		}
	}
	return nil
}
