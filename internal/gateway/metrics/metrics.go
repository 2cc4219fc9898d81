package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the dual-control gateway.
type Metrics struct {
	Submissions      *prometheus.CounterVec
	Executions       *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	IdempotentReplay prometheus.Counter
	ExecuteLatency   *prometheus.HistogramVec
}

// New creates a new Metrics instance with all gateway metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_gateway_submissions_total",
			Help: "Total submissions, by action type and route (immediate or gated)",
		}, []string{"action_type", "route"}),

		Executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_gateway_executions_total",
			Help: "Total executor invocations, by action type and outcome",
		}, []string{"action_type", "outcome"}),

		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_gateway_resolutions_total",
			Help: "Total approval resolutions handled, by outcome",
		}, []string{"outcome"}),

		IdempotentReplay: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_gateway_idempotent_replays_total",
			Help: "Total submissions answered from a previously recorded outcome",
		}),

		ExecuteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_gateway_execute_duration_seconds",
			Help:    "Executor latency, by action type",
			Buckets: prometheus.DefBuckets,
		}, []string{"action_type"}),
	}
}

// IncrementSubmission records a submission and the route it took.
func (m *Metrics) IncrementSubmission(actionType, route string) {
	if m != nil {
		m.Submissions.WithLabelValues(actionType, route).Inc()
	}
}

// IncrementExecution records an executor invocation outcome.
func (m *Metrics) IncrementExecution(actionType, outcome string) {
	if m != nil {
		m.Executions.WithLabelValues(actionType, outcome).Inc()
	}
}

// IncrementResolution records a resolution outcome.
func (m *Metrics) IncrementResolution(outcome string) {
	if m != nil {
		m.Resolutions.WithLabelValues(outcome).Inc()
	}
}

// IncrementReplay records an idempotent replay.
func (m *Metrics) IncrementReplay() {
	if m != nil {
		m.IdempotentReplay.Inc()
	}
}

// ObserveExecuteLatency records executor latency.
func (m *Metrics) ObserveExecuteLatency(actionType string, seconds float64) {
	if m != nil {
		m.ExecuteLatency.WithLabelValues(actionType).Observe(seconds)
	}
}
