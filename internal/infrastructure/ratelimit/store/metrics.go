package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowlimit",
			Subsystem: "store",
			Name:      "failovers_total",
			Help:      "Number of times the coordinator degraded away from a backend",
		},
		[]string{"from"},
	)

	storeRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowlimit",
			Subsystem: "store",
			Name:      "recoveries_total",
			Help:      "Number of timed reversions to the preferred backend",
		},
	)

	storeActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowlimit",
			Subsystem: "store",
			Name:      "active",
			Help:      "1 for the backend currently serving counter operations",
		},
		[]string{"kind"},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowlimit",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Backend errors observed by the coordinator",
		},
		[]string{"kind", "op"},
	)
)
