package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
)

// Event is an environment lifecycle signal.
type Event string

const (
	EventVisible Event = "visible"
	EventHidden  Event = "hidden"
	EventFocus   Event = "focus"
	EventOnline  Event = "online"
	EventOffline Event = "offline"
)

// ParseEvent validates an event name.
func ParseEvent(s string) (Event, error) {
	switch ev := Event(s); ev {
	case EventVisible, EventHidden, EventFocus, EventOnline, EventOffline:
		return ev, nil
	}
	return "", fmt.Errorf("unknown lifecycle event %q", s)
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	Interval    time.Duration // period of the interval trigger
	Window      time.Duration // keys unused for longer are not refreshed
	EventMinGap time.Duration // min gap between event-triggered passes (0 = every event runs)
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    30 * time.Second,
		Window:      DefaultActiveWindow,
		EventMinGap: time.Second,
	}
}

// Scheduler triggers revalidation passes on a timer and on lifecycle events.
//
// The timer runs only while the environment is visible and online and the
// scheduler has been started; it is stopped on hidden or offline and
// restarted by the next visible or online event that restores both.
type Scheduler struct {
	eng     *Engine
	cfg     SchedulerConfig
	limiter *rate.Limiter
	log     *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	started bool
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler creates a stopped scheduler for eng.
func NewScheduler(eng *Engine, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultActiveWindow
	}
	limit := rate.Inf
	if cfg.EventMinGap > 0 {
		limit = rate.Every(cfg.EventMinGap)
	}
	return &Scheduler{
		eng:     eng,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.WithComponent("scheduler"),
	}
}

// Start is the environment observer's setup call: it enables the timer
// (running if the environment allows) and performs an immediate mount pass.
func (s *Scheduler) Start(ctx context.Context) Report {
	s.mu.Lock()
	s.ctx = ctx
	s.started = true
	s.syncLocked()
	s.mu.Unlock()

	s.log.Info("Scheduler started", "interval", s.cfg.Interval, "window", s.cfg.Window)
	return s.eng.RevalidateActive(ctx, ReasonMount, s.cfg.Window, true)
}

// Stop disables the timer and waits for its loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.started = false
	done := s.stopTimerLocked()
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the interval timer is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// HandleEvent applies a lifecycle event and, for events that can reveal
// stale data, runs a revalidation pass. It returns nil when no pass ran.
func (s *Scheduler) HandleEvent(ctx context.Context, ev Event) *Report {
	lc := s.eng.Lifecycle()
	var reason Reason
	switch ev {
	case EventVisible:
		lc.SetVisible(true)
		reason = ReasonVisible
	case EventHidden:
		lc.SetVisible(false)
	case EventFocus:
		reason = ReasonFocus
	case EventOnline:
		lc.SetOnline(true)
		reason = ReasonOnline
	case EventOffline:
		lc.SetOnline(false)
	default:
		s.log.Warn("Ignoring unknown lifecycle event", "event", ev)
		return nil
	}

	s.mu.Lock()
	s.syncLocked()
	s.mu.Unlock()

	if reason == "" {
		return nil
	}
	// Offline passes do nothing and reconnects always refresh, so neither
	// spends the debounce token.
	if reason != ReasonOnline && lc.Online() && !s.limiter.Allow() {
		metrics.RevalidationDebounced.Inc()
		s.log.Debug("Debounced revalidation trigger", "event", ev)
		return nil
	}
	rep := s.eng.RevalidateActive(ctx, reason, s.cfg.Window, true)
	return &rep
}

// syncLocked starts or stops the timer to match the lifecycle state.
func (s *Scheduler) syncLocked() {
	want := s.started && s.eng.Lifecycle().Foreground() && (s.ctx == nil || s.ctx.Err() == nil)
	switch {
	case want && !s.running:
		s.startTimerLocked()
	case !want && s.running:
		s.stopTimerLocked()
	}
}

func (s *Scheduler) startTimerLocked() {
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	metrics.SchedulerRunning.Set(1)
	go s.loop(s.ctx, s.stop, s.done)
	s.log.Debug("Interval timer running")
}

// stopTimerLocked returns the channel closed when the loop has exited, or
// nil if the timer was not running.
func (s *Scheduler) stopTimerLocked() chan struct{} {
	if !s.running {
		return nil
	}
	s.running = false
	close(s.stop)
	metrics.SchedulerRunning.Set(0)
	s.log.Debug("Interval timer stopped")
	return s.done
}

func (s *Scheduler) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.running && s.stop == stop {
				s.running = false
				metrics.SchedulerRunning.Set(0)
			}
			s.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.eng.Lifecycle().Foreground() {
				continue
			}
			s.eng.RevalidateActive(ctx, ReasonInterval, s.cfg.Window, true)
		}
	}
}
