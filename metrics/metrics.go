package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_events_evaluated_total",
			Help: "Total number of events evaluated against the rule catalog",
		},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"severity"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to evaluate one event against every enabled rule",
			Buckets: prometheus.DefBuckets,
		},
	)

	EvaluationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_evaluation_failures_total",
			Help: "Total number of events whose evaluation failed after retries",
		},
		[]string{"reason"},
	)
)
