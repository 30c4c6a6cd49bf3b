// Package metrics exposes Prometheus instrumentation for the evaluation
// engine. Collectors are registered on the default registry; serve them
// with promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goaltrack_evaluation_passes_total",
		Help: "Completed evaluation passes.",
	})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goaltrack_evaluation_duration_seconds",
		Help:    "Wall time of one evaluation pass, fetch to persist.",
		Buckets: prometheus.DefBuckets,
	})

	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goaltrack_evaluation_snapshots_total",
		Help: "Goal evaluation snapshots appended.",
	})

	ImpactsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goaltrack_decision_impacts_total",
		Help: "Decision impact audit records appended.",
	})

	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goaltrack_events_ingested_total",
		Help: "Normalized events accepted through the API.",
	})
)
