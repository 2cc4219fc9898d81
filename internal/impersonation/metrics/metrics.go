package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for impersonation sessions.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	StartConflicts  prometheus.Counter
	SessionDuration prometheus.Histogram
}

// New creates a new Metrics instance with all impersonation metrics registered.
func New() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_impersonation_sessions_started_total",
			Help: "Total impersonation sessions started",
		}),

		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_impersonation_sessions_ended_total",
			Help: "Total impersonation sessions ended, by cause",
		}, []string{"cause"}),

		StartConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_impersonation_start_conflicts_total",
			Help: "Total start attempts rejected because a session was already active",
		}),

		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_impersonation_session_duration_seconds",
			Help:    "Duration of explicitly ended sessions",
			Buckets: prometheus.ExponentialBuckets(30, 3, 9),
		}),
	}
}

// IncrementStarted records a session start.
func (m *Metrics) IncrementStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

// IncrementEnded records a session end with its cause (explicit or expired).
func (m *Metrics) IncrementEnded(cause string) {
	if m != nil {
		m.SessionsEnded.WithLabelValues(cause).Inc()
	}
}

// IncrementStartConflict records a rejected start.
func (m *Metrics) IncrementStartConflict() {
	if m != nil {
		m.StartConflicts.Inc()
	}
}

// ObserveSessionDuration records how long an explicitly ended session ran.
func (m *Metrics) ObserveSessionDuration(seconds float64) {
	if m != nil {
		m.SessionDuration.Observe(seconds)
	}
}
