package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunt_runs_total",
			Help: "Hunt pipeline runs by final status",
		},
		[]string{"status"},
	)

	IndicatorsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunt_indicators_extracted_total",
			Help: "Indicators extracted from intelligence events",
		},
		[]string{"kind"},
	)

	IndicatorRepeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hunt_indicator_repeats_total",
			Help: "Indicators whose value was already seen earlier in the same run",
		},
	)

	Queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunt_queries_total",
			Help: "Backend searches by outcome",
		},
		[]string{"outcome"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hunt_query_duration_seconds",
			Help:    "Time spent executing one backend search including retries",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	QueryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hunt_query_retries_total",
			Help: "Backend search retry attempts",
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hunt_query_cache_hits_total",
			Help: "Searches answered from the per-run result cache",
		},
	)

	BreakerOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hunt_breaker_open_total",
			Help: "Times the backend circuit breaker opened",
		},
	)

	Reports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunt_report_artifacts_total",
			Help: "Report artifacts by outcome",
		},
		[]string{"outcome"},
	)

	LastRunHits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hunt_last_run_hits",
			Help: "Sum of hit counts in the most recent run",
		},
	)
)
