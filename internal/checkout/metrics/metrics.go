package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the checkout state machine.
type Metrics struct {
	// State transitions by from/to state
	Transitions *prometheus.CounterVec

	// Checkout attempts by outcome ("completed", "redirected", "blocked", "empty_cart")
	CheckoutOutcomes *prometheus.CounterVec

	// Verification results by path ("provider", "manual") and result ("verified", "denied", "failed", "timeout")
	VerificationResults *prometheus.CounterVec

	// Status polls needed before a verification settled
	PollAttempts prometheus.Histogram

	// Sessions currently held by the registry
	ActiveSessions prometheus.Gauge
}

// New registers checkout metrics on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_transitions_total",
			Help: "Checkout state machine transitions",
		}, []string{"from", "to"}),

		CheckoutOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_attempts_total",
			Help: "Checkout attempts by outcome",
		}, []string{"outcome"}),

		VerificationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_verification_results_total",
			Help: "Age verification results by path and result",
		}, []string{"path", "result"}),

		PollAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_verification_poll_attempts",
			Help:    "Status polls per settled verification",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_checkout_active_sessions",
			Help: "Checkout sessions held in memory",
		}),
	}
}

func (m *Metrics) RecordTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) RecordCheckout(outcome string) {
	if m != nil {
		m.CheckoutOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordVerification(path, result string) {
	if m != nil {
		m.VerificationResults.WithLabelValues(path, result).Inc()
	}
}

func (m *Metrics) ObservePolls(n int) {
	if m != nil {
		m.PollAttempts.Observe(float64(n))
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.ActiveSessions.Set(float64(n))
	}
}
