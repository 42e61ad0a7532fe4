package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the admission pipeline.
type Metrics struct {
	// Decisions by route and outcome
	decisions *prometheus.CounterVec

	// Shadow-mode would-have-denied decisions
	shadowDenied *prometheus.CounterVec

	// Store failures absorbed by the failure policy
	storeFailures *prometheus.CounterVec

	// Escalation tier transitions
	escalations *prometheus.CounterVec

	// Alert delivery attempts
	notifications *prometheus.CounterVec

	// Decision latency
	checkDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a Metrics instance on a specific
// registerer. Tests use this with a fresh registry.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_decisions_total",
				Help: "Total number of admission decisions by route and outcome",
			},
			[]string{"route", "result"},
		),

		shadowDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_shadow_denied_total",
				Help: "Decisions that would have been denied with enforcement on",
			},
			[]string{"route"},
		),

		storeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_store_failures_total",
				Help: "Store failures absorbed by the configured failure policy",
			},
			[]string{"policy"},
		),

		escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_escalations_total",
				Help: "Severity tier transitions by target tier",
			},
			[]string{"tier"},
		),

		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_notifications_total",
				Help: "Alert dispatch outcomes",
			},
			[]string{"result"},
		),

		checkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
		),
	}
}

// RecordDecision records one admission decision.
func (m *Metrics) RecordDecision(route, result string) {
	m.decisions.WithLabelValues(route, result).Inc()
}

// RecordShadowDenied records a decision that shadow mode converted to allow.
func (m *Metrics) RecordShadowDenied(route string) {
	m.shadowDenied.WithLabelValues(route).Inc()
}

// RecordStoreFailure records a store failure handled by the failure policy.
func (m *Metrics) RecordStoreFailure(policy string) {
	m.storeFailures.WithLabelValues(policy).Inc()
}

// RecordEscalation records a tier transition.
func (m *Metrics) RecordEscalation(tier string) {
	m.escalations.WithLabelValues(tier).Inc()
}

// RecordNotification records an alert dispatch outcome.
func (m *Metrics) RecordNotification(result string) {
	m.notifications.WithLabelValues(result).Inc()
}

// RecordCheckDuration records the duration of one admission check.
func (m *Metrics) RecordCheckDuration(seconds float64) {
	m.checkDuration.Observe(seconds)
}
