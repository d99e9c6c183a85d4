// monitoring.go: Prometheus metrics for the decision engine and limiters
package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	outcomeAllowed    = "allowed"
	outcomeFiltered   = "filtered"
	outcomeDisabled   = "disabled"
	outcomeChallenged = "challenged"
	outcomeRejected   = "rejected"
	outcomeError      = "error"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowlimit",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Evaluations by limiter, request mode and outcome",
		},
		[]string{"limiter", "mode", "outcome"},
	)

	evaluateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowlimit",
			Subsystem: "engine",
			Name:      "evaluate_duration_seconds",
			Help:      "Time spent in Evaluate, continuation included",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"limiter"},
	)

	tokenBucketRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowlimit",
			Subsystem: "token_bucket",
			Name:      "rate_per_second",
			Help:      "Target rate of the global token bucket",
		},
		[]string{"limiter"},
	)
)
