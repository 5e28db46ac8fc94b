// Package metrics defines Prometheus metrics for the verification
// service.
//
// Unlike the reference operator's metrics package, which registers
// against controller-runtime's global registry, this service is a
// standalone HTTP daemon with no controller-runtime dependency: metrics
// are registered against a private prometheus.Registry returned by New
// and served by the caller's own /metrics handler.
//
// Metric naming follows Prometheus conventions:
//   - verifier_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram/gauge the verifier records,
// registered against its own private registry.
type Metrics struct {
	registry *prometheus.Registry

	ChallengeOutcomesTotal     *prometheus.CounterVec
	WebhookDeliveryDuration    *prometheus.HistogramVec
	TierTransitionsTotal       *prometheus.CounterVec
	SpotChecksTotal            *prometheus.CounterVec
	BurstsDispatchedTotal      *prometheus.CounterVec
	SessionsFinalizedTotal     *prometheus.CounterVec
	ActiveSessions             prometheus.Gauge
}

// New builds a Metrics instance and registers all series against a
// fresh, private prometheus.Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		ChallengeOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_challenge_outcomes_total",
				Help: "Total challenge outcomes by status.",
			},
			[]string{"status"},
		),
		WebhookDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_webhook_delivery_duration_seconds",
				Help:    "Duration of individual webhook deliveries.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"status"},
		),
		TierTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_tier_transitions_total",
				Help: "Total trust-tier transitions by destination tier.",
			},
			[]string{"tier"},
		),
		SpotChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_spot_checks_total",
				Help: "Total spot-checks by outcome.",
			},
			[]string{"outcome"},
		),
		BurstsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_bursts_dispatched_total",
				Help: "Total challenge bursts dispatched by size bucket.",
			},
			[]string{"size_bucket"},
		),
		SessionsFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_sessions_finalized_total",
				Help: "Total verification sessions finalized by result.",
			},
			[]string{"result"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "verifier_active_sessions",
				Help: "Number of verification sessions currently in progress.",
			},
		),
	}

	reg.MustRegister(
		m.ChallengeOutcomesTotal,
		m.WebhookDeliveryDuration,
		m.TierTransitionsTotal,
		m.SpotChecksTotal,
		m.BurstsDispatchedTotal,
		m.SessionsFinalizedTotal,
		m.ActiveSessions,
	)

	return m
}

// Handler serves this registry's series in the Prometheus exposition
// format, for wiring to GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordChallengeOutcome records one challenge's terminal status.
func (m *Metrics) RecordChallengeOutcome(status string) {
	m.ChallengeOutcomesTotal.WithLabelValues(status).Inc()
}

// RecordWebhookDelivery records the duration of a single webhook
// delivery attempt.
func (m *Metrics) RecordWebhookDelivery(status string, duration time.Duration) {
	m.WebhookDeliveryDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTierTransition records an agent moving into the given tier.
func (m *Metrics) RecordTierTransition(tier string) {
	m.TierTransitionsTotal.WithLabelValues(tier).Inc()
}

// RecordSpotCheck records a spot-check's outcome ("passed", "failed", or
// "skipped").
func (m *Metrics) RecordSpotCheck(outcome string) {
	m.SpotChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordBurstDispatched records one dispatched burst, bucketed by size.
func (m *Metrics) RecordBurstDispatched(sizeBucket string) {
	m.BurstsDispatchedTotal.WithLabelValues(sizeBucket).Inc()
}

// RecordSessionFinalized records a session reaching a terminal result
// ("passed" or "failed").
func (m *Metrics) RecordSessionFinalized(result string) {
	m.SessionsFinalizedTotal.WithLabelValues(result).Inc()
}

// SetActiveSessions sets the current in-progress session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}
