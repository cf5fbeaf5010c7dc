package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of admission decisions by endpoint class",
		},
		[]string{"class", "decision"},
	)

	bucketsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratelimit_buckets",
			Help: "Number of live quota buckets by endpoint class",
		},
		[]string{"class"},
	)
)
