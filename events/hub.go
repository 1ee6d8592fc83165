// Package events fans broadcast messages out to named UI listeners.
package events

import (
	"log/slog"
	"sync"

	"zendesk-prioritizer/pkg/prioritizer"
)

// Listener names used by the UI surfaces.
const (
	Popup   = "popup"
	Options = "options"
)

// listenerBuffer is how many undelivered messages a listener may queue.
const listenerBuffer = 32

// Listener receives messages broadcast under its name.
type Listener struct {
	ch   chan prioritizer.PortMessage
	hub  *Hub
	name string
	once sync.Once
}

// Name returns the name the listener subscribed with.
func (l *Listener) Name() string {
	return l.name
}

// C returns the channel messages are delivered on. It is closed by Close.
func (l *Listener) C() <-chan prioritizer.PortMessage {
	return l.ch
}

// Close unsubscribes the listener and runs the hub's disconnect hooks.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.hub.remove(l)
	})
}

// Hub delivers messages to connected listeners.
type Hub struct {
	logger       *slog.Logger
	listeners    map[*Listener]struct{}
	onDisconnect []func(name string)
	mu           sync.Mutex
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger,
		listeners: make(map[*Listener]struct{}),
	}
}

// OnDisconnect registers a hook that runs whenever a listener closes.
func (h *Hub) OnDisconnect(fn func(name string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Subscribe connects a new listener under name.
func (h *Hub) Subscribe(name string) *Listener {
	l := &Listener{
		ch:   make(chan prioritizer.PortMessage, listenerBuffer),
		hub:  h,
		name: name,
	}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	count := len(h.listeners)
	h.mu.Unlock()

	h.logger.Debug("Listener connected", "name", name, "listeners", count)
	return l
}

// Send delivers msg to every listener subscribed under name, or to all
// listeners when name is empty. When a listener's queue is full, progress
// updates are dropped and any other message replaces the oldest queued one.
func (h *Hub) Send(name string, msg prioritizer.PortMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		if name != "" && l.name != name {
			continue
		}
		h.deliver(l, msg)
	}
}

// deliver must be called with h.mu held, which keeps l.ch open.
func (h *Hub) deliver(l *Listener, msg prioritizer.PortMessage) {
	select {
	case l.ch <- msg:
		return
	default:
	}
	if msg.Type == prioritizer.MessageProgress {
		h.logger.Debug("Listener queue full, dropping progress", "name", l.name)
		return
	}
	select {
	case old := <-l.ch:
		h.logger.Warn("Listener queue full, discarding oldest message", "name", l.name, "type", old.Type)
	default:
	}
	select {
	case l.ch <- msg:
	default:
		h.logger.Warn("Listener queue full, dropping message", "name", l.name, "type", msg.Type)
	}
}

func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Hub) remove(l *Listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	close(l.ch)
	hooks := append([]func(string){}, h.onDisconnect...)
	h.mu.Unlock()

	h.logger.Debug("Listener disconnected", "name", l.name)
	for _, hook := range hooks {
		hook(l.name)
	}
}
