// Package background is the message dispatcher every UI surface talks to.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"zendesk-prioritizer/events"
	"zendesk-prioritizer/model"
	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/settings"
	"zendesk-prioritizer/zendesk"
)

// Message types accepted by Handle.
const (
	GetState            = "getState"
	GetSettings         = "getSettings"
	SetSettings         = "setSettings"
	DetectUserID        = "detectUserId"
	ListViews           = "listViews"
	RefreshTickets      = "refreshTickets"
	ToggleStar          = "toggleStar"
	LaunchLink          = "launchLink"
	TestNotification    = "testNotification"
	ForcePollCheck      = "forcePollCheck"
	NotificationClicked = "notificationClicked"
)

// ErrUnknownType is reported for message types the dispatcher does not handle.
var ErrUnknownType = errors.New("Unknown message type")

// Message is a request from a UI surface.
type Message struct {
	Settings      *settings.Update `json:"settings,omitempty"`
	Type          string           `json:"type"`
	ZendeskDomain string           `json:"zendeskDomain,omitempty"`
	TicketID      settings.FlexID  `json:"ticketId"`
	ObjectID      settings.FlexID  `json:"objectID"`
	IsView        bool             `json:"isView,omitempty"`
}

// Response is the reply to a Message.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	OK    bool   `json:"ok"`
}

// State is the getState payload.
type State struct {
	Settings settings.Settings `json:"settings"`
	Model    model.Snapshot    `json:"model"`
}

// Zendesk is the subset of the API the dispatcher calls directly.
type Zendesk interface {
	CurrentUser(ctx context.Context, domain string) (*prioritizer.User, error)
	Views(ctx context.Context, domain string) ([]*prioritizer.View, error)
}

// Refresher rebuilds the ticket model.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Poller checks watched views for new tickets.
type Poller interface {
	CheckAll(ctx context.Context) error
	LastNotifiedView() (int64, bool)
}

// Scheduler re-arms periodic polling.
type Scheduler interface {
	Update(s settings.Settings)
}

// Launcher opens agent links.
type Launcher interface {
	Launch(ctx context.Context, domain string, objectID int64, isView bool) (string, error)
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n *prioritizer.Notification) error
}

// Hub delivers broadcast messages and reports listener disconnects.
type Hub interface {
	Send(name string, msg prioritizer.PortMessage)
	OnDisconnect(fn func(name string))
}

// Deps wires a Dispatcher.
type Deps struct {
	Settings  *settings.Manager
	Model     *model.Model
	Zendesk   Zendesk
	Refresher Refresher
	Poller    Poller
	Scheduler Scheduler
	Launcher  Launcher
	Notifier  Notifier
	Hub       Hub
	Logger    *slog.Logger
}

// Dispatcher routes messages to the components that handle them.
type Dispatcher struct {
	d    Deps
	now  func() time.Time
	once sync.Once
}

// New creates a dispatcher. Stored state is loaded on the first message.
func New(deps Deps) *Dispatcher {
	return &Dispatcher{d: deps, now: time.Now}
}

// Init loads settings and starred tickets and arms the poll schedule. It runs
// once no matter how often it is called; Handle calls it first.
func (b *Dispatcher) Init(ctx context.Context) {
	b.once.Do(func() {
		logger := b.d.Logger
		if err := b.d.Settings.Load(ctx); err != nil {
			logger.Warn("Failed to load settings, using defaults", "error", err)
		}
		if err := b.d.Model.Load(ctx); err != nil {
			logger.Warn("Failed to load starred tickets", "error", err)
		}
		b.d.Model.Touch()

		b.d.Settings.OnSave(b.d.Scheduler.Update)
		b.d.Scheduler.Update(b.d.Settings.Current())

		b.d.Hub.OnDisconnect(func(name string) {
			if err := b.d.Model.Save(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to save model on disconnect", "listener", name, "error", err)
			}
		})
		logger.Info("Background initialized", "domain", b.d.Settings.Current().ZendeskDomain)
	})
}

// Handle processes one message.
func (b *Dispatcher) Handle(ctx context.Context, msg Message) Response {
	b.Init(ctx)

	start := b.now()
	data, err := b.dispatch(ctx, msg)
	if err != nil {
		b.d.Logger.Warn("Message failed",
			"type", msg.Type,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return Response{OK: false, Error: errorText(err)}
	}
	b.d.Logger.Debug("Message handled", "type", msg.Type, "duration_ms", time.Since(start).Milliseconds())
	return Response{OK: true, Data: data}
}

func (b *Dispatcher) dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case GetState:
		return b.State(), nil

	case GetSettings:
		return map[string]any{"settings": b.d.Settings.Current()}, nil

	case SetSettings:
		var u settings.Update
		if msg.Settings != nil {
			u = *msg.Settings
		}
		if _, err := b.d.Settings.Apply(ctx, u); err != nil {
			return nil, err
		}
		return nil, nil

	case DetectUserID:
		domain, err := b.domain(msg.ZendeskDomain)
		if err != nil {
			return nil, err
		}
		user, err := b.d.Zendesk.CurrentUser(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("detect user id: %w", err)
		}
		return map[string]any{"user": user}, nil

	case ListViews:
		domain, err := b.domain(msg.ZendeskDomain)
		if err != nil {
			return nil, err
		}
		views, err := b.d.Zendesk.Views(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("list views: %w", err)
		}
		if views == nil {
			views = []*prioritizer.View{}
		}
		return map[string]any{"views": views}, nil

	case RefreshTickets:
		// Failures are already reported to listeners and recorded on the model.
		if err := b.d.Refresher.Refresh(ctx); err != nil {
			b.d.Logger.Debug("Refresh did not complete", "error", err)
		}
		return b.State(), nil

	case ToggleStar:
		if !msg.TicketID.Valid {
			return nil, errors.New("invalid ticket id")
		}
		starred, err := b.d.Model.ToggleStar(strconv.FormatInt(msg.TicketID.Value, 10))
		if err != nil {
			return nil, err
		}
		if err := b.d.Model.Save(ctx); err != nil {
			return nil, err
		}
		b.d.Hub.Send(events.Popup, prioritizer.PortMessage{Type: prioritizer.MessageRefresh})
		return map[string]any{"starred": starred}, nil

	case LaunchLink:
		if !msg.ObjectID.Valid {
			return nil, errors.New("invalid object id")
		}
		u, err := b.d.Launcher.Launch(ctx, b.d.Settings.Current().ZendeskDomain, msg.ObjectID.Value, msg.IsView)
		if err != nil {
			return nil, err
		}
		return map[string]any{"url": u}, nil

	case TestNotification:
		if err := b.d.Notifier.Notify(ctx, b.testNotification()); err != nil {
			return nil, fmt.Errorf("test notification: %w", err)
		}
		return nil, nil

	case ForcePollCheck:
		// Poll failures are logged by the poller and leave the seen map untouched.
		if err := b.d.Poller.CheckAll(ctx); err != nil {
			b.d.Logger.Debug("Poll check did not complete", "error", err)
		}
		return nil, nil

	case NotificationClicked:
		viewID, ok := b.d.Poller.LastNotifiedView()
		if !ok {
			return nil, nil
		}
		u, err := b.d.Launcher.Launch(ctx, b.d.Settings.Current().ZendeskDomain, viewID, true)
		if err != nil {
			return nil, err
		}
		return map[string]any{"url": u}, nil

	default:
		return nil, ErrUnknownType
	}
}

// State returns the getState payload.
func (b *Dispatcher) State() State {
	return State{
		Settings: b.d.Settings.Current(),
		Model:    b.d.Model.Snapshot(),
	}
}

func (b *Dispatcher) domain(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if d := b.d.Settings.Current().ZendeskDomain; d != "" {
		return d, nil
	}
	return "", errors.New("No domain specified")
}

func (b *Dispatcher) testNotification() *prioritizer.Notification {
	return &prioritizer.Notification{
		CreatedAt:      b.now(),
		ID:             "test_" + strconv.FormatInt(b.now().UnixMilli(), 10),
		Title:          "Test Notification",
		Message:        "Submitter: Test User",
		ContextMessage: "This is a test notification from Zendesk Prioritizer.",
		TicketCount:    1,
	}
}

// errorText renders Zendesk failures with the status table and everything else as is.
func errorText(err error) string {
	var se *zendesk.StatusError
	if errors.As(err, &se) {
		return zendesk.ErrorMessage(se.Status)
	}
	return err.Error()
}
