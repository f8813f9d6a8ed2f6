package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hybridvamp/V2MusicBot/internal/platform/metrics"
)

const reapNoticeText = "⚠️ No active listeners. Leaving voice chat..."

// ReaperConfig holds the tuning knobs for the inactivity reaper.
// The zero value is not usable; call DefaultReaperConfig.
type ReaperConfig struct {
	// BotID selects which bot identity's auto-end flag gates the loop.
	BotID int64
	// SleepInterval is the target pacing between sweep starts.
	SleepInterval time.Duration
	// MinCycleSleep is the floor on inter-sweep sleep when a sweep ran long.
	MinCycleSleep time.Duration
	// MinPlayedTime is how long a track must have played before a
	// single-listener session may be judged abandoned.
	MinPlayedTime time.Duration
	// MaxConcurrentOps bounds concurrent per-chat checks within a sweep.
	MaxConcurrentOps int
	// OperationTimeout is the hard timeout on each remote engine call.
	OperationTimeout time.Duration
	// BatchPause is the courtesy pause between chat batches.
	BatchPause time.Duration
	// MaxConsecutiveErrors is the cycle-level error count that triggers backoff.
	MaxConsecutiveErrors int
	// MaxBackoff caps the exponential cycle-level backoff.
	MaxBackoff time.Duration
}

// DefaultReaperConfig returns the production defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		SleepInterval:        30 * time.Second,
		MinCycleSleep:        5 * time.Second,
		MinPlayedTime:        15 * time.Second,
		MaxConcurrentOps:     5,
		OperationTimeout:     30 * time.Second,
		BatchPause:           500 * time.Millisecond,
		MaxConsecutiveErrors: 5,
		MaxBackoff:           60 * time.Second,
	}
}

// InactivityReaper periodically sweeps every chat with an active playback
// session, asks the call engine whether listeners remain, and ends sessions
// judged abandoned. One stuck or failing check never stalls the rest of a
// sweep: per-chat work runs concurrently under a semaphore with per-call
// timeouts, and per-chat errors are recorded, not propagated.
type InactivityReaper struct {
	store     *QueueStore
	engine    CallEngine
	transport Transport
	flags     Flags
	cfg       ReaperConfig
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu                sync.Mutex
	consecutiveErrors int
	backoff           time.Duration
}

// NewInactivityReaper wires a reaper over the shared queue store and the
// external collaborators. Metrics may be nil to disable metric recording.
func NewInactivityReaper(store *QueueStore, engine CallEngine, transport Transport, flags Flags, cfg ReaperConfig, log *slog.Logger, m *metrics.Metrics) *InactivityReaper {
	if cfg.SleepInterval <= 0 {
		cfg = DefaultReaperConfig()
	}
	return &InactivityReaper{
		store:     store,
		engine:    engine,
		transport: transport,
		flags:     flags,
		cfg:       cfg,
		log:       log,
		metrics:   m,
	}
}

// Run executes sweeps until ctx is cancelled. It is self-pacing: each sweep
// sleeps max(SleepInterval - elapsed, MinCycleSleep) before the next, and
// consecutive cycle-level errors add exponential backoff capped at MaxBackoff.
func (r *InactivityReaper) Run(ctx context.Context) {
	pacer := rate.NewLimiter(rate.Every(r.cfg.BatchPause), 1)

	for {
		cycleStart := time.Now()

		if err := r.sweep(ctx, pacer); err != nil {
			r.recordCycleError(ctx, err)
		} else {
			r.resetCycleErrors()
		}

		elapsed := time.Since(cycleStart)
		sleep := r.cfg.SleepInterval - elapsed
		if sleep < r.cfg.MinCycleSleep {
			sleep = r.cfg.MinCycleSleep
		}
		if !sleepCtx(ctx, sleep) {
			return
		}
	}
}

// sweep runs one full pass over the active chats.
func (r *InactivityReaper) sweep(ctx context.Context, pacer *rate.Limiter) error {
	if !r.flags.AutoEndEnabled(ctx, r.cfg.BotID) {
		r.log.Debug("auto-end disabled, skipping sweep")
		return ctx.Err()
	}

	chats := r.store.ListActiveChatIDs()
	if len(chats) == 0 {
		return ctx.Err()
	}

	r.log.Debug("sweep start", slog.Int("active_chats", len(chats)))

	batchSize := r.cfg.MaxConcurrentOps
	if batchSize > 10 {
		batchSize = 10
	}

	ended := 0
	for _, batch := range chunk(chats, batchSize) {
		// Courtesy pacing between batches, cancellable via ctx. The first
		// Wait drains the limiter's initial token and returns immediately.
		if err := pacer.Wait(ctx); err != nil {
			return err
		}

		results := mapBounded(ctx, batch, r.cfg.MaxConcurrentOps, r.CheckChat)
		for _, res := range results {
			decision := res.Value
			if res.Err != nil {
				decision = ReapError
			}
			if r.metrics != nil {
				r.metrics.IncReapCheck(decision.String())
			}
			switch {
			case res.Err != nil:
				r.log.Warn("inactivity check failed",
					slog.Int64("chat_id", int64(res.Key)),
					slog.String("error", res.Err.Error()))
				if r.metrics != nil {
					r.metrics.IncJobErrors()
				}
			case res.Value == ReapEnded:
				ended++
			}
		}
	}

	if ended > 0 {
		r.log.Info("sweep ended abandoned sessions", slog.Int("ended", ended))
	}
	return ctx.Err()
}

// CheckChat performs the inactivity decision for a single chat and ends the
// session when it is abandoned. It returns the decision taken. A remote
// check error leaves the chat untouched; the next sweep retries it.
func (r *InactivityReaper) CheckChat(ctx context.Context, chatID ChatID) (ReapDecision, error) {
	listeners, err := r.withTimeout(ctx, chatID, r.engine.ListenerCount)
	if err != nil {
		return ReapError, err
	}

	// Bot plus at least one real listener: session stays up.
	if listeners > 1 {
		return ReapSkipListeners, nil
	}

	played, err := r.withTimeout(ctx, chatID, r.engine.PlayedSeconds)
	if err != nil {
		return ReapError, err
	}

	// Listener counts right after a start are unreliable; give the track
	// MinPlayedTime before judging.
	if time.Duration(played)*time.Second < r.cfg.MinPlayedTime {
		return ReapSkipTooEarly, nil
	}

	if err := r.transport.NotifyChat(ctx, chatID, reapNoticeText); err != nil {
		r.log.Warn("reap notice failed",
			slog.Int64("chat_id", int64(chatID)),
			slog.String("error", err.Error()))
	}

	endCtx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()
	if err := r.engine.EndStream(endCtx, chatID); err != nil {
		return ReapError, err
	}

	r.store.SetActive(chatID, false)
	if r.metrics != nil {
		r.metrics.IncSessionsEnded()
	}
	r.log.Info("ended inactive session",
		slog.Int64("chat_id", int64(chatID)),
		slog.Int("played_sec", played))
	return ReapEnded, nil
}

// withTimeout runs one engine query under the per-operation hard timeout.
func (r *InactivityReaper) withTimeout(ctx context.Context, chatID ChatID, fn func(context.Context, ChatID) (int, error)) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()
	return fn(opCtx, chatID)
}

func (r *InactivityReaper) recordCycleError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	r.consecutiveErrors++
	n := r.consecutiveErrors

	var wait time.Duration
	if n >= r.cfg.MaxConsecutiveErrors {
		if r.backoff == 0 {
			r.backoff = time.Second
		}
		r.backoff *= 2
		if r.backoff > r.cfg.MaxBackoff {
			r.backoff = r.cfg.MaxBackoff
		}
		wait = r.backoff
		r.consecutiveErrors = 0
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.IncJobErrors()
		r.metrics.SetConsecutiveErrors(n)
	}

	r.log.Error("reaper cycle error",
		slog.Int("consecutive", n),
		slog.String("error", err.Error()))

	if wait > 0 {
		r.log.Warn("too many consecutive errors, backing off",
			slog.Duration("backoff", wait))
		sleepCtx(ctx, wait)
	}
}

func (r *InactivityReaper) resetCycleErrors() {
	r.mu.Lock()
	r.consecutiveErrors = 0
	r.backoff = 0
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.SetConsecutiveErrors(0)
	}
}

// ErrorState reports the current consecutive-error counter and backoff.
func (r *InactivityReaper) ErrorState() (consecutive int, backoff time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveErrors, r.backoff
}
