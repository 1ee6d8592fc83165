// Package server serves the popup and options pages, the message endpoint and the event stream.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"zendesk-prioritizer/background"
	"zendesk-prioritizer/events"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

// maxMessageBytes bounds a message request body.
const maxMessageBytes = 64 << 10

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

// Dispatcher handles UI messages.
type Dispatcher interface {
	Handle(ctx context.Context, msg background.Message) background.Response
}

// Subscriber hands out broadcast listeners.
type Subscriber interface {
	Subscribe(name string) *events.Listener
}

// Server handles HTTP requests.
type Server struct {
	dispatcher Dispatcher
	hub        Subscriber
	logger     *slog.Logger
	now        func() time.Time
}

// Config holds server configuration.
type Config struct {
	Dispatcher Dispatcher
	Hub        Subscriber
	Logger     *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		dispatcher: cfg.Dispatcher,
		hub:        cfg.Hub,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handlePopup)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/star", s.handleStar)
	mux.HandleFunc("/open", s.handleOpen)
	mux.HandleFunc("/view", s.handleView)
	mux.HandleFunc("/options", s.handleOptions)
	mux.HandleFunc("/api/message", s.handleMessage)
	mux.HandleFunc("/api/events", s.handleEvents)
	return s.logRequests(mux)
}

// Serve listens on port until ctx is canceled.
func (s *Server) Serve(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second, // event streams lift this per request
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func setPageHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	setPageHeaders(w)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

type status struct {
	Status string `json:"status"`
}

// allow rejects requests whose method is not m.
func allow(w http.ResponseWriter, r *http.Request, m string) bool {
	if r.Method == m {
		return true
	}
	w.Header().Set("Allow", m)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if allow(w, r, http.MethodGet) {
		s.writeJSON(w, http.StatusOK, status{"healthy"})
	}
}

// handlePoll runs one notification pass synchronously, for external schedulers.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	s.logger.Info("Notification poll requested over HTTP")
	if resp := s.dispatcher.Handle(r.Context(), background.Message{Type: background.ForcePollCheck}); !resp.OK {
		s.logger.Error("Notification poll failed", "error", resp.Error)
		http.Error(w, "Check failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, status{"completed"})
}

// handleMessage is the JSON message channel: a background.Message in, a background.Response out.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var msg background.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, background.Response{Error: "invalid message: " + err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.dispatcher.Handle(r.Context(), msg))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleEvents streams broadcast messages for one listener as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = events.Popup
	}
	if name != events.Popup && name != events.Options {
		http.Error(w, "Unknown listener", http.StatusBadRequest)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("Could not clear write deadline", "error", err)
	}

	// Subscribe before the headers go out so nothing sent after the client
	// sees the response is missed.
	l := s.hub.Subscribe(name)
	defer l.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("Streaming not supported", "error", err)
		return
	}
	s.logger.Info("Listener connected", "listener", name)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("Listener disconnected", "listener", name)
			return
		case msg, ok := <-l.C():
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("Failed to encode event", "type", msg.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				s.logger.Debug("Event write failed", "listener", name, "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
