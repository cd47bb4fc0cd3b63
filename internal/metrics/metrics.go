package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthnOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragate_authn_outcome_total",
			Help: "Authentication attempts by scheme and result",
		},
		[]string{"scheme", "result"},
	)
	AuthzDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragate_authz_decision_total",
			Help: "Authorization decisions (allow/deny)",
		},
		[]string{"action"},
	)
	CsrfChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragate_csrf_checks_total",
			Help: "CSRF guard outcomes (issued/matched/rejected/exempt)",
		},
		[]string{"result"},
	)
	RememberMeIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paragate_rememberme_issued_total",
			Help: "Remember-me tokens minted",
		},
	)
	RememberMeValidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragate_rememberme_validated_total",
			Help: "Remember-me validations by result",
		},
		[]string{"result"},
	)
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paragate_pipeline_duration_seconds",
			Help:    "Latency of the full auth pipeline",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragate_provider_calls_total",
			Help: "Outbound identity/OAuth provider calls by provider and result",
		},
		[]string{"provider", "result"},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "paragate_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.1.0"},
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(AuthnOutcome, AuthzDecision, CsrfChecks,
		RememberMeIssued, RememberMeValidated, PipelineDuration, ProviderCalls, BuildInfo)
	BuildInfo.Set(1)
}
