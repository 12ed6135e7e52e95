// Package metrics exposes Prometheus collectors for the aggregation
// pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal            *prometheus.CounterVec
	postingsTotal        *prometheus.CounterVec
	sourceErrorsTotal    *prometheus.CounterVec
	verifyFetchesTotal   *prometheus.CounterVec
	classifierCallsTotal *prometheus.CounterVec
	enrichCacheTotal     *prometheus.CounterVec
	crossSourceTotal     prometheus.Counter
	runDurationSeconds   prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		postingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_postings_total",
				Help: "Total postings processed, labeled by outcome (found, new, updated).",
			},
			[]string{"outcome"},
		)

		sourceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_source_errors_total",
				Help: "Total source collection failures, labeled by source id.",
			},
			[]string{"source"},
		)

		verifyFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_verify_fetches_total",
				Help: "Total verification fetches, labeled by outcome (live, closed, failed).",
			},
			[]string{"outcome"},
		)

		classifierCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_classifier_calls_total",
				Help: "Total classification calls, labeled by task and result.",
			},
			[]string{"task", "result"},
		)

		enrichCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_enrich_cache_total",
				Help: "Enrichment cache lookups, labeled by task and hit/miss.",
			},
			[]string{"task", "result"},
		)

		crossSourceTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_cross_source_merges_total",
				Help: "Postings whose record merged adverts from more than one source.",
			},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_run_duration_seconds",
				Help:    "Histogram of end-to-end pipeline run durations.",
				Buckets: []float64{1, 5, 15, 60, 120, 300, 900, 1800},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one finished run.
func ObserveRun(status string, seconds float64) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(seconds)
}

// ObservePostings adds to the posting outcome counters.
func ObservePostings(found, inserted, updated int) {
	Init()
	postingsTotal.WithLabelValues("found").Add(float64(found))
	postingsTotal.WithLabelValues("new").Add(float64(inserted))
	postingsTotal.WithLabelValues("updated").Add(float64(updated))
}

// ObserveSourceError increments the failure counter for a source.
func ObserveSourceError(sourceID string) {
	Init()
	sourceErrorsTotal.WithLabelValues(sourceID).Inc()
}

// ObserveVerifyFetch increments the verification counter for an outcome.
func ObserveVerifyFetch(outcome string) {
	Init()
	verifyFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveClassifierCall increments the classification call counter.
func ObserveClassifierCall(task, result string) {
	Init()
	classifierCallsTotal.WithLabelValues(task, result).Inc()
}

// ObserveCrossSourceMerges counts postings assembled from several sources.
func ObserveCrossSourceMerges(n int) {
	Init()
	crossSourceTotal.Add(float64(n))
}

// ObserveEnrichCache increments the cache lookup counter.
func ObserveEnrichCache(task, result string) {
	Init()
	enrichCacheTotal.WithLabelValues(task, result).Inc()
}
