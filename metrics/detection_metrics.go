package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection-core metrics.
//
// Datasets, the rule evaluator and the correlation stores record here.
// All metrics are automatically registered with Prometheus; exposing them is
// left to the embedding process.

var (
	// RuleEvaluationDuration measures per-rule evaluation time.
	// Buckets: 1μs to ~16ms.
	RuleEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "argus",
			Subsystem: "detect",
			Name:      "rule_evaluation_duration_seconds",
			Help:      "Time spent evaluating a single rule against an event",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 8),
		},
	)

	// RuleFiringsTotal counts DNF clause firings.
	// Labels:
	//   - rule_id: The ID of the fired rule
	RuleFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "detect",
			Name:      "rule_firings_total",
			Help:      "Total number of rule firings (one per satisfied clause)",
		},
		[]string{"rule_id"},
	)

	// RegexTimeoutsTotal counts Matches evaluations aborted by the match timeout.
	RegexTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "detect",
			Name:      "regex_timeouts_total",
			Help:      "Total number of regex matches aborted by timeout",
		},
	)

	// DatasetUnavailableTotal counts lookups of kinds missing from a rule's registry subset.
	// Labels:
	//   - kind: dataset kind ("ip_set:block_ip")
	DatasetUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "detect",
			Name:      "dataset_unavailable_total",
			Help:      "Total number of dataset lookups that failed closed",
		},
		[]string{"kind"},
	)

	// DatasetPublishesTotal counts snapshot publications per kind.
	DatasetPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "dataset",
			Name:      "publishes_total",
			Help:      "Total number of dataset snapshots published",
		},
		[]string{"kind"},
	)

	// DatasetBatchSize observes the number of commands folded into one snapshot.
	DatasetBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "argus",
			Subsystem: "dataset",
			Name:      "batch_size",
			Help:      "Number of update commands applied per published snapshot",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"kind"},
	)

	// DatasetCommandsRejectedTotal counts commands refused by a queue.
	// Labels:
	//   - kind: dataset kind
	//   - reason: "full", "timeout" or "closed"
	DatasetCommandsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "dataset",
			Name:      "commands_rejected_total",
			Help:      "Total number of dataset update commands rejected by the queue",
		},
		[]string{"kind", "reason"},
	)

	// CorrelationObservationsTotal counts observations recorded per backend.
	CorrelationObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "correlation",
			Name:      "observations_total",
			Help:      "Total number of correlation observations recorded",
		},
		[]string{"backend"},
	)

	// CorrelationKeysEvictedTotal counts keys dropped by the memory store.
	// Labels:
	//   - cause: "capacity" (LRU) or "expired" (sweep)
	CorrelationKeysEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "correlation",
			Name:      "keys_evicted_total",
			Help:      "Total number of correlation keys evicted",
		},
		[]string{"cause"},
	)

	// CorrelationContentionTotal counts family lock acquisitions that timed out.
	CorrelationContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "correlation",
			Name:      "contention_total",
			Help:      "Total number of correlation lock timeouts",
		},
	)

	// CorrelationBreakerTransitionsTotal counts circuit breaker state changes
	// of the correlation backend.
	// Labels:
	//   - state: the state entered ("open", "half_open", "closed")
	CorrelationBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "correlation",
			Name:      "breaker_transitions_total",
			Help:      "Total number of correlation backend circuit breaker transitions",
		},
		[]string{"state"},
	)

	// RuleLoadErrorsTotal counts rules rejected at load time.
	// Labels:
	//   - source: "native" or "sigma"
	RuleLoadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "rules",
			Name:      "load_errors_total",
			Help:      "Total number of rule documents rejected at load time",
		},
		[]string{"source"},
	)

	// FeedLoadsTotal counts dataset feed loads.
	// Labels:
	//   - kind: dataset kind
	//   - result: "success" or "failure"
	FeedLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "feeds",
			Name:      "loads_total",
			Help:      "Total number of dataset feed loads",
		},
		[]string{"kind", "result"},
	)

	// FeedRecordsSkippedTotal counts malformed feed records that were ignored.
	FeedRecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "feeds",
			Name:      "records_skipped_total",
			Help:      "Total number of malformed feed records skipped",
		},
		[]string{"kind"},
	)

	// ActiveRules is the number of enabled rules in the published catalog.
	ActiveRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "argus",
			Subsystem: "rules",
			Name:      "active",
			Help:      "Number of currently enabled rules",
		},
	)
)

// RecordDatasetPublish records one published snapshot and the batch that produced it.
func RecordDatasetPublish(kind string, batch int) {
	DatasetPublishesTotal.WithLabelValues(kind).Inc()
	if batch > 0 {
		DatasetBatchSize.WithLabelValues(kind).Observe(float64(batch))
	}
}

// RecordCommandRejected records a command refused by a dataset queue.
func RecordCommandRejected(kind, reason string) {
	DatasetCommandsRejectedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordRuleFiring records a rule firing and the alert it produced.
func RecordRuleFiring(ruleID, severity string) {
	RuleFiringsTotal.WithLabelValues(ruleID).Inc()
	AlertsGenerated.WithLabelValues(severity).Inc()
}

// RecordKeyEviction records correlation keys dropped by the memory store.
func RecordKeyEviction(cause string, n int) {
	if n > 0 {
		CorrelationKeysEvictedTotal.WithLabelValues(cause).Add(float64(n))
	}
}

// UpdateActiveRules updates the active rules gauge.
func UpdateActiveRules(count int) {
	ActiveRules.Set(float64(count))
}
