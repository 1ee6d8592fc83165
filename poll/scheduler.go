package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"zendesk-prioritizer/settings"
)

// Checker runs one poll pass.
type Checker interface {
	CheckAll(ctx context.Context) error
}

// Scheduler runs a Checker every pollInterval minutes while notify views are configured.
type Scheduler struct {
	checker Checker
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	unit    time.Duration
	period  time.Duration
	mu      sync.Mutex
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(checker Checker, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		checker: checker,
		logger:  logger,
		unit:    time.Minute,
	}
}

// Update clears the schedule and re-arms it for the given settings. Nothing is
// armed without notify views or with a pollInterval of zero or less.
func (s *Scheduler) Update(st settings.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if len(st.NotifyViewIDs) == 0 || st.PollInterval <= 0 {
		s.logger.Info("Poll schedule cleared", "notify_views", len(st.NotifyViewIDs), "poll_interval", st.PollInterval)
		return
	}

	period := time.Duration(st.PollInterval) * s.unit
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.period = period
	s.done = make(chan struct{})
	go s.run(ctx, period, s.done)

	s.logger.Info("Poll schedule armed", "period", period.String(), "notify_views", len(st.NotifyViewIDs))
}

// armed returns the scheduled period, zero when nothing is scheduled.
func (s *Scheduler) armed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Stop clears the schedule and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.period = 0
}

func (s *Scheduler) run(ctx context.Context, period time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checker.CheckAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Scheduled poll failed", "error", err)
			}
		}
	}
}
