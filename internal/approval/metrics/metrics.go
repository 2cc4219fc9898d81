package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the approval workflow.
type Metrics struct {
	RequestsCreated  *prometheus.CounterVec
	RequestsDecided  *prometheus.CounterVec
	RequestsExpired  prometheus.Counter
	DecisionConflict prometheus.Counter
	PendingAge       prometheus.Histogram
}

// New creates a new Metrics instance with all approval metrics registered.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_approval_requests_created_total",
			Help: "Total approval requests created, by action type",
		}, []string{"action_type"}),

		RequestsDecided: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_approval_requests_decided_total",
			Help: "Total approval requests decided, by terminal status",
		}, []string{"status"}),

		RequestsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_approval_requests_expired_total",
			Help: "Total approval requests expired before a decision",
		}),

		DecisionConflict: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_approval_decision_conflicts_total",
			Help: "Total decide attempts that lost the race to a concurrent decision",
		}),

		PendingAge: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_approval_pending_age_seconds",
			Help:    "Age of a request at decision time",
			Buckets: prometheus.ExponentialBuckets(60, 4, 8),
		}),
	}
}

// IncrementCreated records a created request.
func (m *Metrics) IncrementCreated(actionType string) {
	if m != nil {
		m.RequestsCreated.WithLabelValues(actionType).Inc()
	}
}

// IncrementDecided records a terminal transition.
func (m *Metrics) IncrementDecided(status string) {
	if m != nil {
		m.RequestsDecided.WithLabelValues(status).Inc()
	}
}

// IncrementExpired records an expiry.
func (m *Metrics) IncrementExpired() {
	if m != nil {
		m.RequestsExpired.Inc()
	}
}

// IncrementConflict records a lost decide race.
func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.DecisionConflict.Inc()
	}
}

// ObservePendingAge records how long a request sat pending.
func (m *Metrics) ObservePendingAge(seconds float64) {
	if m != nil {
		m.PendingAge.Observe(seconds)
	}
}
