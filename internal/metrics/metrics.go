package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_runs_submitted_total",
			Help: "Total number of analysis runs submitted",
		},
		[]string{"mode"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_runs_finished_total",
			Help: "Total number of analysis runs that reached a terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forensight_run_duration_seconds",
			Help:    "End-to-end analysis run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forensight_runs_active",
			Help: "Number of runs currently executing",
		},
	)

	// Oracle metrics
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_oracle_calls_total",
			Help: "Total number of structured generation calls",
		},
		[]string{"purpose", "status"},
	)

	OracleLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forensight_oracle_latency_seconds",
			Help:    "Structured generation latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
		},
		[]string{"purpose"},
	)

	OracleTransportRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forensight_oracle_transport_retries_total",
			Help: "Total number of retried oracle transport attempts",
		},
	)

	// Search metrics
	SearchCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_search_calls_total",
			Help: "Total number of external search calls",
		},
		[]string{"status"},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forensight_search_results",
			Help:    "Number of results returned per external search call",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)

	SearchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forensight_search_cache_hits_total",
			Help: "Total number of external search cache hits",
		},
	)

	SearchCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forensight_search_cache_misses_total",
			Help: "Total number of external search cache misses",
		},
	)

	// Research loop metrics
	ResearchRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forensight_research_rounds",
			Help:    "Retry rounds executed per reviewer run",
			Buckets: []float64{0, 1, 2, 3, 4},
		},
		[]string{"role"},
	)

	EntityFilterFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forensight_entity_filter_fallbacks_total",
			Help: "Times the entity-scope filter matched nothing and kept the unfiltered set",
		},
	)

	EnrichmentRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forensight_enrichment_rounds",
			Help:    "Workpaper completeness rounds executed per run",
			Buckets: []float64{0, 1, 2},
		},
	)

	EnrichedFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_enriched_fields_total",
			Help: "Total number of workpaper fields overwritten by enrichment",
		},
		[]string{"field"},
	)

	ScopeSanitizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forensight_scope_sanitizations_total",
			Help: "Entity scope sanitization passes by outcome",
		},
		[]string{"status"},
	)

	// Panel metrics
	ReviewerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forensight_reviewer_duration_seconds",
			Help:    "Reviewer execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role", "status"},
	)

	PanelDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forensight_panel_duration_seconds",
			Help:    "Review panel duration in seconds, adjudication included",
			Buckets: []float64{5, 15, 30, 60, 120, 300},
		},
		[]string{"status"},
	)
)

// RecordOracleCall records one structured generation attempt.
func RecordOracleCall(purpose, status string, durationSeconds float64) {
	OracleCalls.WithLabelValues(purpose, status).Inc()
	OracleLatency.WithLabelValues(purpose).Observe(durationSeconds)
}

// RecordSearch records one external search call and its result count.
func RecordSearch(status string, results int) {
	SearchCalls.WithLabelValues(status).Inc()
	if status == "success" {
		SearchResults.Observe(float64(results))
	}
}

// RecordRunFinished records a run reaching a terminal status.
func RecordRunFinished(status string, durationSeconds float64) {
	RunsFinished.WithLabelValues(status).Inc()
	RunDuration.WithLabelValues(status).Observe(durationSeconds)
}
