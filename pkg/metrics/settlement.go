package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartpay"

// Settlement outcomes used as label values.
const (
	OutcomeSuccess           = "success"
	OutcomeEmptyCart         = "empty_cart"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeNotFound          = "not_found"
	OutcomeError             = "error"
)

// SettlementMetrics tracks checkout settlement outcomes and latency.
type SettlementMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	amount   prometheus.Counter
}

// NewSettlementMetrics registers settlement collectors on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Settlement attempts by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Settlement latency from request to commit or rejection.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})
	amount := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settled_amount_total",
		Help:      "Sum of committed settlement totals in the wallet currency.",
	})
	reg.MustRegister(total, duration, amount)
	return &SettlementMetrics{total: total, duration: duration, amount: amount}
}

// Observe records one settlement attempt.
func (m *SettlementMetrics) Observe(outcome string, elapsed time.Duration) {
	if m == nil || m.total == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.total.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// AddAmount adds a committed settlement total.
func (m *SettlementMetrics) AddAmount(amount float64) {
	if m == nil || m.amount == nil || amount <= 0 {
		return
	}
	m.amount.Add(amount)
}
