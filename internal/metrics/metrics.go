package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Decision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgegate_decision_total",
			Help: "Count of edge decisions by outcome",
		},
		[]string{"outcome"},
	)
	DecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgegate_decision_duration_seconds",
			Help:    "Latency of the edge decision pipeline",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgegate_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter, by tier",
		},
		[]string{"tier"},
	)
	RateLimitKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgegate_rate_limit_keys",
			Help: "Distinct (identity, tier) windows currently tracked",
		},
	)
	ValidationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgegate_validation_failures_total",
			Help: "Requests rejected by the request validator",
		},
	)
	SessionRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgegate_session_refresh_total",
			Help: "Session refresh attempts by result (success/rejected/unavailable)",
		},
		[]string{"result"},
	)
	SessionsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgegate_sessions_issued_total",
			Help: "Session cookies minted",
		},
	)
	UpstreamBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgegate_upstream_breaker_state",
			Help: "Identity authority circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "edgegate_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.1.0"},
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		Decision, DecisionDuration, RateLimitHits, RateLimitKeys,
		ValidationFailures, SessionRefresh, SessionsIssued,
		UpstreamBreakerState, BuildInfo,
	)
}
