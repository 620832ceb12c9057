package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infermed_query_duration_seconds",
			Help:    "Context build duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 90},
		},
		[]string{"cache"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_query_total",
			Help: "Total number of interaction queries",
		},
		[]string{"status"},
	)

	SourceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_source_calls_total",
			Help: "Source adapter calls by outcome",
		},
		[]string{"source", "outcome"},
	)

	SourceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infermed_source_latency_seconds",
			Help:    "Source adapter call latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 8, 30, 90},
		},
		[]string{"source"},
	)

	SourceItems = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infermed_source_items",
			Help:    "Evidence items returned per source call",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"source"},
	)

	MalformedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_malformed_items_total",
			Help: "Evidence items rejected at the adapter boundary",
		},
		[]string{"source"},
	)

	RetrievalExpansions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "infermed_retrieval_expansions_total",
			Help: "Queries that triggered an expanded retrieval round",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CacheShared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_cache_shared_total",
			Help: "Callers served by another caller's in-flight computation",
		},
		[]string{"cache_type"},
	)

	FeedbackRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_feedback_total",
			Help: "Feedback records appended",
		},
		[]string{"polarity"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	EnrichmentLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermed_enrichment_lookups_total",
			Help: "Label lookups by upstream and result",
		},
		[]string{"upstream", "result"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(SourceCalls)
		prometheus.MustRegister(SourceLatency)
		prometheus.MustRegister(SourceItems)
		prometheus.MustRegister(MalformedItems)
		prometheus.MustRegister(RetrievalExpansions)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(CacheShared)
		prometheus.MustRegister(FeedbackRecorded)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(EnrichmentLookups)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
