package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playback job manager.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	httpErrorsTotal    prometheus.Counter
	reapChecksTotal    *prometheus.CounterVec
	sessionsEndedTotal prometheus.Counter
	leaveOpsTotal      prometheus.Counter
	leaveFailuresTotal prometheus.Counter
	jobErrorsTotal     prometheus.Counter
	activeChats        prometheus.Gauge
	loopAlive          *prometheus.GaugeVec
	consecutiveErrors  prometheus.Gauge
}

// New creates and registers Prometheus metrics for the bot's job manager.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_http_requests_total",
		Help: "Total number of control-plane HTTP requests received",
	})
	httpErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	reapChecksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_reap_checks_total",
		Help: "Total number of inactivity checks, by decision",
	}, []string{"decision"})
	sessionsEndedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_sessions_ended_total",
		Help: "Total number of playback sessions ended as abandoned",
	})
	leaveOpsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_leave_operations_total",
		Help: "Total number of successful assistant leave operations",
	})
	leaveFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_leave_failures_total",
		Help: "Total number of failed assistant leave operations",
	})
	jobErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_job_errors_total",
		Help: "Total number of background job errors",
	})
	activeChats := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_active_chats",
		Help: "Number of chats with an active playback session",
	})
	loopAlive := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_job_loop_alive",
		Help: "Whether a background job loop is running (1) or not (0)",
	}, []string{"loop"})
	consecutiveErrors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_reaper_consecutive_errors",
		Help: "Current consecutive cycle-level error count in the reaper loop",
	})

	registry.MustRegister(
		requestsTotal,
		httpErrorsTotal,
		reapChecksTotal,
		sessionsEndedTotal,
		leaveOpsTotal,
		leaveFailuresTotal,
		jobErrorsTotal,
		activeChats,
		loopAlive,
		consecutiveErrors,
	)

	return &Metrics{
		registry:           registry,
		requestsTotal:      requestsTotal,
		httpErrorsTotal:    httpErrorsTotal,
		reapChecksTotal:    reapChecksTotal,
		sessionsEndedTotal: sessionsEndedTotal,
		leaveOpsTotal:      leaveOpsTotal,
		leaveFailuresTotal: leaveFailuresTotal,
		jobErrorsTotal:     jobErrorsTotal,
		activeChats:        activeChats,
		loopAlive:          loopAlive,
		consecutiveErrors:  consecutiveErrors,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncHTTPErrors increments the HTTP error counter.
func (m *Metrics) IncHTTPErrors() {
	m.httpErrorsTotal.Inc()
}

// IncReapCheck increments the reap check counter for the given decision label.
func (m *Metrics) IncReapCheck(decision string) {
	m.reapChecksTotal.WithLabelValues(decision).Inc()
}

// IncSessionsEnded increments the sessions-ended counter.
func (m *Metrics) IncSessionsEnded() {
	m.sessionsEndedTotal.Inc()
}

// IncLeaveOps increments the successful leave operation counter.
func (m *Metrics) IncLeaveOps() {
	m.leaveOpsTotal.Inc()
}

// IncLeaveFailures increments the failed leave operation counter.
func (m *Metrics) IncLeaveFailures() {
	m.leaveFailuresTotal.Inc()
}

// IncJobErrors increments the background job error counter.
func (m *Metrics) IncJobErrors() {
	m.jobErrorsTotal.Inc()
}

// SetActiveChats sets the active chats gauge.
func (m *Metrics) SetActiveChats(n int) {
	m.activeChats.Set(float64(n))
}

// SetLoopAlive records whether the named job loop is currently running.
func (m *Metrics) SetLoopAlive(loop string, alive bool) {
	v := 0.0
	if alive {
		v = 1.0
	}
	m.loopAlive.WithLabelValues(loop).Set(v)
}

// SetConsecutiveErrors sets the reaper consecutive-error gauge.
func (m *Metrics) SetConsecutiveErrors(n int) {
	m.consecutiveErrors.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active chats).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
