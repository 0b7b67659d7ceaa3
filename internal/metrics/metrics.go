// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchJobsProcessed counts portfolio-date pipeline outcomes by status.
	BatchJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spyglass",
		Subsystem: "batch",
		Name:      "jobs_processed_total",
		Help:      "Portfolio-date pipeline runs by outcome status.",
	}, []string{"status"})

	// BatchRunDuration observes end-to-end batch run time.
	BatchRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spyglass",
		Subsystem: "batch",
		Name:      "run_duration_seconds",
		Help:      "End-to-end duration of batch runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// ProviderRequests counts market-data requests by provider and result.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spyglass",
		Subsystem: "marketdata",
		Name:      "provider_requests_total",
		Help:      "Market-data provider calls by provider and result.",
	}, []string{"provider", "result"})

	// ScheduledJobRuns counts cron job firings by job and outcome.
	ScheduledJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spyglass",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Scheduled job firings by job name and outcome.",
	}, []string{"job", "outcome"})
)
