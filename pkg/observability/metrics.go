package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Token service metrics
	TokensIssuedTotal        *prometheus.CounterVec
	TokenVerificationsTotal  *prometheus.CounterVec
	TokenRefreshesTotal      *prometheus.CounterVec
	TokenRevocationsTotal    prometheus.Counter

	// Authorization metrics
	AuthorizationChecksTotal *prometheus.CounterVec

	// Throttle metrics
	ThrottleDecisionsTotal *prometheus.CounterVec
	ThrottleDelaySeconds   prometheus.Histogram

	// Store metrics
	RevocationLookupDuration prometheus.Histogram
	StoreErrorsTotal         *prometheus.CounterVec

	// Audit metrics
	AuditEmitFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_tokens_issued_total",
				Help: "Total number of credential pairs issued",
			},
			[]string{"outcome"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_verifications_total",
				Help: "Total number of access credential verifications by result code",
			},
			[]string{"code"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_refreshes_total",
				Help: "Total number of refresh attempts by result code",
			},
			[]string{"code"},
		),
		TokenRevocationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_token_revocations_total",
				Help: "Total number of credential revocations",
			},
		),
		AuthorizationChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authorization_checks_total",
				Help: "Total number of permission checks by outcome",
			},
			[]string{"outcome"},
		),
		ThrottleDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_throttle_decisions_total",
				Help: "Total number of throttle decisions by policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
		ThrottleDelaySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_throttle_delay_seconds",
				Help:    "Progressive delay applied to requests",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		RevocationLookupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_revocation_lookup_duration_seconds",
				Help:    "Revocation store lookup duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_store_errors_total",
				Help: "Total number of external store failures by store",
			},
			[]string{"store"},
		),
		AuditEmitFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_audit_emit_failures_total",
				Help: "Total number of audit events that failed to emit",
			},
		),
	}

	registry.MustRegister(
		m.TokensIssuedTotal,
		m.TokenVerificationsTotal,
		m.TokenRefreshesTotal,
		m.TokenRevocationsTotal,
		m.AuthorizationChecksTotal,
		m.ThrottleDecisionsTotal,
		m.ThrottleDelaySeconds,
		m.RevocationLookupDuration,
		m.StoreErrorsTotal,
		m.AuditEmitFailuresTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics endpoint
func (m *Metrics) Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
