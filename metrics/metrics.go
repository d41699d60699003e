package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourcesLoaded counts loaded documents.
	// Labels:
	//   - outcome: "parsed", "upgraded", "unsupported_version" or "failed"
	SourcesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctitoolkit",
			Name:      "sources_loaded_total",
			Help:      "Total number of STIX sources loaded",
		},
		[]string{"outcome"},
	)

	// ObservablesExtracted counts observables rendered by a transform.
	ObservablesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctitoolkit",
			Name:      "observables_extracted_total",
			Help:      "Total number of observables rendered",
		},
		[]string{"object_type"},
	)

	SnortRulesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctitoolkit",
			Name:      "snort_rules_generated_total",
			Help:      "Total number of Snort rules generated",
		},
	)

	// TransformDuration measures one Text() call per transform kind.
	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctitoolkit",
			Name:      "transform_duration_seconds",
			Help:      "Time spent rendering a package",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"transform"},
	)

	SavesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctitoolkit",
			Name:      "saves_failed_total",
			Help:      "Total number of package documents that could not be written",
		},
	)

	// RenderFailures counts observables skipped because their renderer panicked.
	RenderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctitoolkit",
			Name:      "render_failures_total",
			Help:      "Total number of observables skipped after a renderer panic",
		},
		[]string{"transform"},
	)

	// LedgerCacheHits counts digest lookups answered without the database.
	LedgerCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctitoolkit",
			Subsystem: "ledger",
			Name:      "cache_hits_total",
			Help:      "Total number of ledger lookups served from the LRU cache",
		},
	)
)

// RecordSourceLoaded records the outcome of loading one source.
func RecordSourceLoaded(outcome string) {
	SourcesLoaded.WithLabelValues(outcome).Inc()
}

// RecordObservables adds n rendered observables of one object type.
func RecordObservables(objectType string, n int) {
	if n > 0 {
		ObservablesExtracted.WithLabelValues(objectType).Add(float64(n))
	}
}

// RecordSnortRule records one emitted Snort rule.
func RecordSnortRule() {
	SnortRulesGenerated.Inc()
}

// RecordTransformDuration records the time one transform took.
func RecordTransformDuration(transform string, durationSec float64) {
	TransformDuration.WithLabelValues(transform).Observe(durationSec)
}

// RecordSaveFailure records a package that could not be saved.
func RecordSaveFailure() {
	SavesFailed.Inc()
}

// RecordRenderFailure records an observable one transform had to skip.
func RecordRenderFailure(transform string) {
	RenderFailures.WithLabelValues(transform).Inc()
}

// RecordLedgerCacheHit records a ledger lookup served from cache.
func RecordLedgerCacheHit() {
	LedgerCacheHits.Inc()
}
