package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the admission gate.
type Metrics struct {
	// Admission outcomes
	admissionDecisions *prometheus.CounterVec
	rateLimitDenials   *prometheus.CounterVec

	// Budget checks
	budgetChecks *prometheus.CounterVec
	budgetAlerts prometheus.Counter

	// Ledger faults
	ledgerFailures *prometheus.CounterVec

	// Admit latency
	admissionDuration prometheus.Histogram
}

// NewMetrics creates the gate's collectors and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		admissionDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_decisions_total",
				Help: "Total number of admission decisions by result",
			},
			[]string{"endpoint", "environment", "result"},
		),

		rateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limit_denials_total",
				Help: "Total number of rate limit denials by window",
			},
			[]string{"endpoint", "limit"},
		),

		budgetChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_budget_checks_total",
				Help: "Total number of budget pre-checks performed",
			},
			[]string{"environment", "result"},
		),

		budgetAlerts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_budget_alerts_total",
				Help: "Total number of budget threshold alerts raised",
			},
		),

		ledgerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_ledger_failures_total",
				Help: "Total number of ledger failures by operation and applied policy",
			},
			[]string{"operation", "policy"},
		),

		admissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_admission_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15), // 50µs to ~800ms
			},
		),
	}
}

// RecordAdmission records an admission decision.
func (m *Metrics) RecordAdmission(endpoint, environment string, kind DecisionKind) {
	m.admissionDecisions.WithLabelValues(endpoint, environment, string(kind)).Inc()
}

// RecordRateLimitDenial records a rate limit denial.
func (m *Metrics) RecordRateLimitDenial(endpoint, limit string) {
	m.rateLimitDenials.WithLabelValues(endpoint, limit).Inc()
}

// RecordBudgetCheck records a budget pre-check. result is within, exceeded or error.
func (m *Metrics) RecordBudgetCheck(environment, result string) {
	m.budgetChecks.WithLabelValues(environment, result).Inc()
}

// RecordBudgetAlert records a raised budget alert.
func (m *Metrics) RecordBudgetAlert() {
	m.budgetAlerts.Inc()
}

// RecordLedgerFailure records a ledger fault and the policy applied to it.
func (m *Metrics) RecordLedgerFailure(operation, policy string) {
	m.ledgerFailures.WithLabelValues(operation, policy).Inc()
}

// RecordAdmissionDuration records the duration of an Admit call.
func (m *Metrics) RecordAdmissionDuration(seconds float64) {
	m.admissionDuration.Observe(seconds)
}
