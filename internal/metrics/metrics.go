// Package metrics defines the Prometheus instrumentation shared by the
// execution engine. Collectors are registered on the default registry and
// exposed by the HTTP layer under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished per-host script executions by
	// terminal status (success, error, connection_failed).
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runfleet",
		Name:      "executions_total",
		Help:      "Per-host script executions by terminal status.",
	}, []string{"status"})

	// ExecutionDuration observes the wall time of per-host executions,
	// including connection setup.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runfleet",
		Name:      "execution_duration_seconds",
		Help:      "Wall time of per-host script executions.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ScheduleFirings counts cron trigger firings that dispatched a run.
	ScheduleFirings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runfleet",
		Name:      "schedule_firings_total",
		Help:      "Cron firings that dispatched a run.",
	})

	// ScheduleOverlapsSkipped counts cron firings dropped because the
	// previous run of the same schedule was still in progress.
	ScheduleOverlapsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runfleet",
		Name:      "schedule_overlaps_skipped_total",
		Help:      "Cron firings dropped by the per-schedule overlap guard.",
	})
)
