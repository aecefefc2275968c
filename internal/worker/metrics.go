package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// itemsTotal counts finished items by terminal status
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qagate_items_total",
		Help: "Batch items finished, by status",
	}, []string{"status"})

	// verdictsTotal counts final verdicts of completed items
	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qagate_verdicts_total",
		Help: "Final QA verdicts of completed items",
	}, []string{"verdict"})

	costTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qagate_cost_usd_total",
		Help: "Estimated model spend in USD",
	})

	itemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qagate_item_duration_seconds",
		Help:    "Wall time to process one batch item",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	regenerationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qagate_regenerations_total",
		Help: "Fix-loop regenerations performed",
	})
)
