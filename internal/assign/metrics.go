package assign

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Assignment outcomes, used as the "outcome" label.
const (
	OutcomeNew      = "new"
	OutcomeExisting = "existing"
	OutcomeRenamed  = "renamed"
	OutcomeOrphaned = "orphaned"
	OutcomeAdopted  = "adopted"
)

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	assignments   *prometheus.CounterVec
	revisions     prometheus.Counter
	flushDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnum_assignments_total",
			Help: "Files resolved to a part number, by outcome.",
		}, []string{"outcome"}),
		revisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partnum_revisions_total",
			Help: "Revisions issued for existing parts.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "partnum_store_flush_duration_seconds",
			Help:    "Time spent durably flushing the mapping store.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.assignments, m.revisions, m.flushDuration)
	}
	return m
}

// ObserveFlush records one store flush. Pass it to store.WithFlushObserver.
func (m *Metrics) ObserveFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
}

func (m *Metrics) outcome(name string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(name).Inc()
}

func (m *Metrics) revision() {
	if m == nil {
		return
	}
	m.revisions.Inc()
}
