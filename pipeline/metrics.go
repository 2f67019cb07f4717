package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchYearsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poplake_fetch_years_total",
			Help: "Fetch attempts by outcome",
		},
		[]string{"outcome"}, // success, not-found, transient
	)

	linesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poplake_lines_total",
			Help: "Lines parsed from fetched blobs by status",
		},
		[]string{"status"}, // parsed, failed
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poplake_records_total",
			Help: "Records submitted to the staging store by status",
		},
		[]string{"status"}, // loaded, failed
	)

	exportRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poplake_export_runs_total",
			Help: "Completed partition exports",
		},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poplake_run_duration_seconds",
			Help:    "Duration of full pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)
