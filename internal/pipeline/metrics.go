package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"stage"},
	)

	rowsLoadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_rows_loaded_total",
			Help: "Total observation rows inserted into the sink",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_uploads_total",
			Help: "Upload attempts by outcome",
		},
		[]string{"outcome"},
	)
)
