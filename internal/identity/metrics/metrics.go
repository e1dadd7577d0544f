package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity gateway calls.
type Metrics struct {
	// Provider call latency by operation ("submit", "status") and outcome
	CallLatency *prometheus.HistogramVec

	// Failed calls by operation and error category
	CallErrors *prometheus.CounterVec

	// 1 while the provider circuit is open
	CircuitOpen prometheus.Gauge
}

// New registers gateway metrics on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_identity_call_duration_seconds",
			Help:    "Duration of identity provider calls by operation and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "outcome"}),

		CallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_identity_call_errors_total",
			Help: "Failed identity provider calls by operation and error category",
		}, []string{"operation", "category"}),

		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_identity_circuit_open",
			Help: "Whether the identity provider circuit breaker is open",
		}),
	}
}

// ObserveCall records one provider call.
func (m *Metrics) ObserveCall(operation, outcome string, d time.Duration) {
	if m != nil {
		m.CallLatency.WithLabelValues(operation, outcome).Observe(d.Seconds())
	}
}

// IncrementError records a failed call.
func (m *Metrics) IncrementError(operation, category string) {
	if m != nil {
		m.CallErrors.WithLabelValues(operation, category).Inc()
	}
}

// SetCircuitOpen tracks breaker state.
func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
