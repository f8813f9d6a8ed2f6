package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hybridvamp/V2MusicBot/internal/platform/metrics"
)

// FleetConfig holds the tuning knobs for the daily auto-leave job.
type FleetConfig struct {
	// LeaveHour/LeaveMinute is the local wall-clock time of the daily pass.
	LeaveHour   int
	LeaveMinute int
	// SessionConcurrency bounds how many assistant sessions are processed
	// at once during a pass.
	SessionConcurrency int
	// BatchSize is how many leave attempts run concurrently per session
	// before a courtesy pause.
	BatchSize int
	// BatchPause is the pause between leave batches.
	BatchPause time.Duration
	// LeaveTimeout is the local hard timeout on one leave attempt.
	LeaveTimeout time.Duration
	// MaxAttempts is the total attempt budget per chat (first try included).
	MaxAttempts int
	// MaxFloodWait is the longest remote wait worth sleeping through;
	// anything longer is recorded as a failure instead.
	MaxFloodWait time.Duration
	// ErrorPause is how long the loop rests after a pass-level error.
	ErrorPause time.Duration
}

// DefaultFleetConfig returns the production defaults.
func DefaultFleetConfig() FleetConfig {
	return FleetConfig{
		LeaveHour:          3,
		LeaveMinute:        0,
		SessionConcurrency: 3,
		BatchSize:          5,
		BatchPause:         2 * time.Second,
		LeaveTimeout:       10 * time.Second,
		MaxAttempts:        3,
		MaxFloodWait:       100 * time.Second,
		ErrorPause:         time.Hour,
	}
}

// FleetLeaveScheduler runs a once-daily pass in which every assistant
// session leaves the group chats it no longer needs to occupy. Chats with
// an active playback session are protected; the protected check happens
// once per chat at leave-attempt time.
type FleetLeaveScheduler struct {
	store     *QueueStore
	transport Transport
	fleet     Fleet
	flags     Flags
	cfg       FleetConfig
	log       *slog.Logger
	metrics   *metrics.Metrics

	// now is swappable for tests.
	now func() time.Time
}

// NewFleetLeaveScheduler wires the scheduler over the shared queue store and
// the external collaborators. Metrics may be nil.
func NewFleetLeaveScheduler(store *QueueStore, transport Transport, fleet Fleet, flags Flags, cfg FleetConfig, log *slog.Logger, m *metrics.Metrics) *FleetLeaveScheduler {
	if cfg.BatchSize <= 0 {
		cfg = DefaultFleetConfig()
	}
	return &FleetLeaveScheduler{
		store:     store,
		transport: transport,
		fleet:     fleet,
		flags:     flags,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Run waits until the next scheduled wall-clock time, executes a pass, then
// repeats every 24h. Every wait is cancellable through ctx so shutdown never
// blocks on the schedule.
func (f *FleetLeaveScheduler) Run(ctx context.Context) {
	for {
		wait := f.untilNextPass()
		f.log.Info("auto-leave pass scheduled",
			slog.Time("at", f.now().Add(wait)),
			slog.Duration("wait", wait))

		if !sleepCtx(ctx, wait) {
			return
		}

		if err := f.runScheduled(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Error("auto-leave pass error", slog.String("error", err.Error()))
			if f.metrics != nil {
				f.metrics.IncJobErrors()
			}
			// Rest before rescheduling so a broken transport does not spin.
			if !sleepCtx(ctx, f.cfg.ErrorPause) {
				return
			}
			continue
		}

		if !sleepCtx(ctx, 24*time.Hour) {
			return
		}
	}
}

func (f *FleetLeaveScheduler) runScheduled(ctx context.Context) error {
	if !f.flags.AutoLeaveEnabled(ctx) {
		f.log.Info("auto-leave disabled, skipping pass")
		return nil
	}
	_, err := f.RunPass(ctx)
	return err
}

// untilNextPass computes the wait until the next occurrence of the target
// wall-clock time; if today's occurrence has passed, tomorrow's is used.
func (f *FleetLeaveScheduler) untilNextPass() time.Duration {
	now := f.now()
	target := time.Date(now.Year(), now.Month(), now.Day(), f.cfg.LeaveHour, f.cfg.LeaveMinute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target.Sub(now)
}

// RunPass executes one full leave pass across every assistant session and
// returns the per-session results. It may also be invoked out of schedule
// (e.g. by an operator through the control plane).
func (f *FleetLeaveScheduler) RunPass(ctx context.Context) ([]FleetLeaveResult, error) {
	return f.runPass(ctx, uuid.NewString())
}

func (f *FleetLeaveScheduler) runPass(ctx context.Context, passID string) ([]FleetLeaveResult, error) {
	start := f.now()
	log := f.log.With(slog.String("pass_id", passID))

	sessions, err := f.fleet.ListAssistantSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		log.Warn("no assistant sessions, nothing to leave")
		return nil, nil
	}

	log.Info("leave pass starting", slog.Int("sessions", len(sessions)))

	results := mapBounded(ctx, sessions, f.cfg.SessionConcurrency,
		func(ctx context.Context, sid SessionID) (FleetLeaveResult, error) {
			return f.leaveForSession(ctx, passID, sid, log)
		})

	out := make([]FleetLeaveResult, 0, len(results))
	totalLeft, totalFailed := 0, 0
	for _, res := range results {
		if res.Err != nil {
			log.Error("session pass failed",
				slog.String("session_id", string(res.Key)),
				slog.String("error", res.Err.Error()))
			if f.metrics != nil {
				f.metrics.IncJobErrors()
			}
			continue
		}
		out = append(out, res.Value)
		totalLeft += res.Value.Left
		totalFailed += res.Value.Failed
	}

	log.Info("leave pass finished",
		slog.Int("sessions", len(sessions)),
		slog.Int("left", totalLeft),
		slog.Int("failed", totalFailed),
		slog.Duration("duration", f.now().Sub(start)))
	return out, ctx.Err()
}

// leaveForSession enumerates one assistant session's dialogs and leaves the
// unprotected group chats in rate-limited batches.
func (f *FleetLeaveScheduler) leaveForSession(ctx context.Context, passID string, sessionID SessionID, log *slog.Logger) (FleetLeaveResult, error) {
	start := f.now()
	result := FleetLeaveResult{PassID: passID, SessionID: sessionID}

	dialogs, err := f.transport.ListDialogs(ctx, sessionID)
	if err != nil {
		return result, err
	}

	candidates := make([]ChatID, 0, len(dialogs))
	for _, id := range dialogs {
		if id.IsGroup() {
			candidates = append(candidates, id)
		}
	}
	result.Evaluated = len(candidates)

	log.Debug("session dialogs enumerated",
		slog.String("session_id", string(sessionID)),
		slog.Int("candidates", len(candidates)))

	// Batch pacing: the limiter spaces batch starts BatchPause apart; the
	// first batch's Wait drains the initial token and returns immediately.
	pacer := rate.NewLimiter(rate.Every(f.cfg.BatchPause), 1)
	for _, batch := range chunk(candidates, f.cfg.BatchSize) {
		if err := pacer.Wait(ctx); err != nil {
			return result, err
		}

		outcomes := mapBounded(ctx, batch, f.cfg.BatchSize,
			func(ctx context.Context, chatID ChatID) (bool, error) {
				return f.leaveChat(ctx, sessionID, chatID, log)
			})
		for _, o := range outcomes {
			switch {
			case o.Err != nil:
				result.Failed++
				log.Warn("leave failed",
					slog.String("session_id", string(sessionID)),
					slog.Int64("chat_id", int64(o.Key)),
					slog.String("error", o.Err.Error()))
				if f.metrics != nil {
					f.metrics.IncLeaveFailures()
				}
			case o.Value:
				result.Left++
				if f.metrics != nil {
					f.metrics.IncLeaveOps()
				}
			}
		}
	}

	result.Duration = f.now().Sub(start)
	log.Info("session pass finished",
		slog.String("session_id", string(sessionID)),
		slog.Int("evaluated", result.Evaluated),
		slog.Int("left", result.Left),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// leaveChat attempts to leave one chat, honoring short remote flood waits
// with a bounded retry budget. It reports false without error when the chat
// turned out to be protected.
func (f *FleetLeaveScheduler) leaveChat(ctx context.Context, sessionID SessionID, chatID ChatID, log *slog.Logger) (bool, error) {
	for attempt := 1; ; attempt++ {
		// Protected-set check happens at attempt time: a chat that went
		// active since enumeration is spared.
		if f.store.IsActive(chatID) {
			return false, nil
		}

		opCtx, cancel := context.WithTimeout(ctx, f.cfg.LeaveTimeout)
		err := f.transport.LeaveChat(opCtx, sessionID, chatID)
		cancel()

		if err == nil {
			log.Debug("left chat",
				slog.String("session_id", string(sessionID)),
				slog.Int64("chat_id", int64(chatID)))
			return true, nil
		}

		if rl, ok := AsRateLimited(err); ok {
			if rl.Wait <= f.cfg.MaxFloodWait && attempt < f.cfg.MaxAttempts {
				log.Warn("flood wait, will retry",
					slog.String("session_id", string(sessionID)),
					slog.Int64("chat_id", int64(chatID)),
					slog.Duration("wait", rl.Wait),
					slog.Int("attempt", attempt))
				if !sleepCtx(ctx, rl.Wait) {
					return false, ctx.Err()
				}
				continue
			}
			return false, err
		}

		// Permanent rejections and local timeouts are not worth retrying.
		return false, err
	}
}
