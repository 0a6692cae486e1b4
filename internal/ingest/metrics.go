package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pipelineOutcomes counts invocations by terminal outcome.
	pipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_pipeline_outcomes_total",
		Help: "Pipeline invocations by terminal outcome.",
	}, []string{"outcome"})
	// fetchRetries counts retried fetch attempts.
	fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_fetch_retries_total",
		Help: "The total number of retried page fetches.",
	})
	// degradedExtractions counts stored records missing optional fields.
	degradedExtractions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_degraded_extractions_total",
		Help: "Records stored with extraction_complete=false.",
	})
	// fetchDuration observes end-to-end page retrieval latency.
	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_fetch_duration_seconds",
		Help:    "Page fetch latency including render escalation.",
		Buckets: prometheus.DefBuckets,
	})
)
