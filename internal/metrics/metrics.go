// Package metrics holds the Prometheus collectors for tool invocations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rustytools"

// Outcome labels.
const (
	OutcomeSuccess = "success" // exit status 0
	OutcomeFailure = "failure" // toolchain reported a failure
	OutcomeError   = "error"   // infrastructure error
)

// Metrics records tool invocations. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	invocations     *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	persistFailures *prometheus.CounterVec
	recorded        *prometheus.CounterVec
}

// New registers the collectors with reg. Passing nil uses a private
// registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		// Labels: tool, outcome (success, failure, error)
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Wall-clock duration of tool invocations",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"tool"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tool_invocations_in_flight",
			Help:      "Tool invocations currently running",
		}),
		persistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persist_failures_total",
			Help:      "Persistence failures attached to tool results",
		}, []string{"tool"}),
		// Labels: kind (error, todo, fix)
		recorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records_total",
			Help:      "Rows written by kind",
		}, []string{"kind"}),
	}
}

// Started marks an invocation as running and returns a func that ends it.
func (m *Metrics) Started() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// Observe records one finished invocation.
func (m *Metrics) Observe(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(tool, outcome).Inc()
	m.duration.WithLabelValues(tool).Observe(d.Seconds())
}

// PersistFailed counts a persistence failure for tool.
func (m *Metrics) PersistFailed(tool string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(tool).Inc()
}

// Recorded counts n rows of kind written to the store.
func (m *Metrics) Recorded(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recorded.WithLabelValues(kind).Add(float64(n))
}
