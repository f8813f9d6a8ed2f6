package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hybridvamp/V2MusicBot/internal/platform/metrics"
)

// Loop names used in status reports and metrics labels.
const (
	LoopReaper      = "reaper"
	LoopFleetLeave  = "fleet_leave"
	LoopHealthCheck = "health_check"
)

// SupervisorConfig holds the supervisor's own knobs.
type SupervisorConfig struct {
	// HealthCheckInterval paces the liveness/cleanup loop.
	HealthCheckInterval time.Duration
	// QueueMaxIdle is how long an empty, inactive queue entry may linger
	// before the health check garbage-collects it.
	QueueMaxIdle time.Duration
	// StopGrace is the extra wait after force-cancel during Stop.
	StopGrace time.Duration
}

// DefaultSupervisorConfig returns the production defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		HealthCheckInterval: 300 * time.Second,
		QueueMaxIdle:        time.Hour,
		StopGrace:           5 * time.Second,
	}
}

// LoopStatus describes one supervised loop.
type LoopStatus struct {
	Running bool `json:"running"`
}

// SupervisorStatus is the read-only view returned by Status.
type SupervisorStatus struct {
	Running           bool                  `json:"running"`
	Loops             map[string]LoopStatus `json:"loops"`
	ConsecutiveErrors int                   `json:"consecutive_errors"`
	Backoff           time.Duration         `json:"backoff_ns"`
	Store             StoreStats            `json:"store"`
}

// SessionJobSupervisor owns the lifecycle of the inactivity reaper, the
// fleet leave scheduler, and a periodic health check. It is the single
// start/stop/status surface the surrounding application talks to.
type SessionJobSupervisor struct {
	store   *QueueStore
	reaper  *InactivityReaper
	fleet   *FleetLeaveScheduler
	cfg     SupervisorConfig
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	loops  map[string]*loopHandle
}

// loopHandle tracks one running loop.
type loopHandle struct {
	done chan struct{}
}

func (h *loopHandle) running() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// NewSessionJobSupervisor wires the supervisor. Metrics may be nil.
func NewSessionJobSupervisor(store *QueueStore, reaper *InactivityReaper, fleet *FleetLeaveScheduler, cfg SupervisorConfig, log *slog.Logger, m *metrics.Metrics) *SessionJobSupervisor {
	if cfg.HealthCheckInterval <= 0 {
		cfg = DefaultSupervisorConfig()
	}
	return &SessionJobSupervisor{
		store:   store,
		reaper:  reaper,
		fleet:   fleet,
		cfg:     cfg,
		log:     log,
		metrics: m,
		loops:   make(map[string]*loopHandle),
	}
}

// Start launches every loop that is not already running. Calling Start on a
// running supervisor is a no-op per loop.
func (s *SessionJobSupervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		// Fresh run context; Stop clears it so a later Start gets a new one.
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.runCtx = ctx
	}

	s.startLoopLocked(LoopReaper, s.reaper.Run)
	s.startLoopLocked(LoopFleetLeave, s.fleet.Run)
	s.startLoopLocked(LoopHealthCheck, s.healthCheckLoop)
}

// startLoopLocked spawns the named loop unless it is still running.
// Caller must hold s.mu.
func (s *SessionJobSupervisor) startLoopLocked(name string, run func(context.Context)) {
	if h, ok := s.loops[name]; ok && h.running() {
		return
	}

	h := &loopHandle{done: make(chan struct{})}
	s.loops[name] = h
	ctx := s.runCtx

	go func() {
		defer close(h.done)
		if s.metrics != nil {
			s.metrics.SetLoopAlive(name, true)
			defer s.metrics.SetLoopAlive(name, false)
		}
		run(ctx)
	}()

	s.log.Info("job loop started", slog.String("loop", name))
}

// Stop signals every loop to stop and waits up to timeout for a graceful
// exit, then waits a short grace period for force-cancellation to be
// observed. Loops that already finished are skipped. Stop never fails.
func (s *SessionJobSupervisor) Stop(timeout time.Duration) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	handles := make(map[string]*loopHandle, len(s.loops))
	for name, h := range s.loops {
		handles[name] = h
	}
	s.mu.Unlock()

	if cancel == nil {
		s.log.Info("supervisor not running, nothing to stop")
		return
	}

	start := time.Now()
	cancel()

	if s.waitAll(handles, timeout) {
		s.log.Info("all job loops stopped", slog.Duration("took", time.Since(start)))
		return
	}

	// Cancellation was already signalled; give stragglers the grace period.
	s.log.Warn("timeout waiting for job loops, waiting grace period")
	if !s.waitAll(handles, s.cfg.StopGrace) {
		for name, h := range handles {
			if h.running() {
				s.log.Error("job loop failed to stop", slog.String("loop", name))
			}
		}
	}
}

// waitAll waits up to timeout for every handle to finish.
func (s *SessionJobSupervisor) waitAll(handles map[string]*loopHandle, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline.C:
			return false
		}
	}
	return true
}

// Status reports loop liveness and the reaper's error/backoff state.
// Read-only; no side effects.
func (s *SessionJobSupervisor) Status() SupervisorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SupervisorStatus{
		Running: s.cancel != nil,
		Loops:   make(map[string]LoopStatus, len(s.loops)),
	}
	for _, name := range []string{LoopReaper, LoopFleetLeave, LoopHealthCheck} {
		st.Loops[name] = LoopStatus{Running: s.loops[name].running()}
	}
	st.ConsecutiveErrors, st.Backoff = s.reaper.ErrorState()
	st.Store = s.store.Stats()
	return st
}

// healthCheckLoop periodically reports loop liveness, garbage-collects
// idle queue entries, and refreshes the active-chats gauge.
func (s *SessionJobSupervisor) healthCheckLoop(ctx context.Context) {
	for {
		if !sleepCtx(ctx, s.cfg.HealthCheckInterval) {
			return
		}

		status := s.Status()
		s.log.Debug("health check",
			slog.Bool("reaper_running", status.Loops[LoopReaper].Running),
			slog.Bool("fleet_leave_running", status.Loops[LoopFleetLeave].Running),
			slog.Int("active_chats", status.Store.ActiveChats),
			slog.Int("consecutive_errors", status.ConsecutiveErrors))

		if cleaned := s.store.CleanupInactive(s.cfg.QueueMaxIdle); cleaned > 0 {
			s.log.Info("cleaned up idle queue entries", slog.Int("removed", cleaned))
		}

		if s.metrics != nil {
			s.metrics.SetActiveChats(s.store.Stats().ActiveChats)
		}
	}
}
