// Package observability holds the engine's Prometheus instrumentation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncJobs counts sync job executions by queue, operation and outcome
	// ("ok" or "error"). Retry exhaustion shows up as repeated errors with
	// no terminal marker; the queue drop is only logged.
	SyncJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treesync_sync_jobs_total",
		Help: "Sync job executions by queue, operation and outcome.",
	}, []string{"queue", "op", "outcome"})

	// ExportFetchFailures counts remote blobs omitted from an export because
	// their fetch failed.
	ExportFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treesync_export_fetch_failures_total",
		Help: "Remote blob fetches omitted from export containers.",
	})

	// ImportResources counts archive sub-imports by outcome.
	ImportResources = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treesync_import_resources_total",
		Help: "Archive sub-imports by outcome.",
	}, []string{"outcome"})
)
