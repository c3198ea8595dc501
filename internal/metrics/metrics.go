// Package metrics exposes executor operation and saga metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements executor.Metrics.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	compFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_executor",
			Name:      "operations_total",
			Help:      "Executor operations by operation and result status.",
		}, []string{"op", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trading_executor",
			Name:      "operation_duration_seconds",
			Help:      "Executor operation latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_executor",
			Name:      "saga_transitions_total",
			Help:      "Saga state transitions by target state.",
		}, []string{"op", "state"}),
		compFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_executor",
			Name:      "compensation_failures_total",
			Help:      "Debits that could not be reversed after a failed create.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.operations, m.duration, m.transitions, m.compFailures)
	return m
}

func (m *Metrics) ObserveOperation(op, status string, d time.Duration) {
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) SagaTransition(op, state string) {
	m.transitions.WithLabelValues(op, state).Inc()
}

func (m *Metrics) CompensationFailure(op string) {
	m.compFailures.WithLabelValues(op).Inc()
}
