package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logscan_jobs_total",
			Help: "Total number of ingestion jobs by terminal status",
		},
		[]string{"status"},
	)

	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logscan_active_jobs",
			Help: "Number of jobs currently queued or processing",
		},
	)

	LinesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logscan_lines_processed_total",
			Help: "Total number of lines processed by outcome",
		},
		[]string{"outcome"},
	)

	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logscan_batch_flush_seconds",
			Help:    "Bulk write duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	BatchEntriesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logscan_batch_entries_saved_total",
			Help: "Total number of entries persisted by the batch writer",
		},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logscan_query_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"kind"},
	)
)
