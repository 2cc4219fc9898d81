package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit log.
type Metrics struct {
	EntriesAppended *prometheus.CounterVec
	AppendFailures  prometheus.Counter
	MirrorPublished prometheus.Counter
	MirrorDropped   prometheus.Counter
}

// New creates a new Metrics instance with all audit metrics registered.
func New() *Metrics {
	return &Metrics{
		EntriesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_audit_entries_appended_total",
			Help: "Total audit entries appended, by action",
		}, []string{"action"}),

		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_append_failures_total",
			Help: "Total audit append failures; each one failed a privileged operation",
		}),

		MirrorPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_mirror_published_total",
			Help: "Total audit entries mirrored to Kafka",
		}),

		MirrorDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_mirror_dropped_total",
			Help: "Total audit entries dropped by the mirror buffer; the store is unaffected",
		}),
	}
}

// IncrementAppended records a successful append.
func (m *Metrics) IncrementAppended(action string) {
	if m != nil {
		m.EntriesAppended.WithLabelValues(action).Inc()
	}
}

// IncrementAppendFailure records a failed append.
func (m *Metrics) IncrementAppendFailure() {
	if m != nil {
		m.AppendFailures.Inc()
	}
}

// IncrementMirrorPublished records a successful mirror publish.
func (m *Metrics) IncrementMirrorPublished() {
	if m != nil {
		m.MirrorPublished.Inc()
	}
}

// IncrementMirrorDropped records a dropped mirror record.
func (m *Metrics) IncrementMirrorDropped() {
	if m != nil {
		m.MirrorDropped.Inc()
	}
}
