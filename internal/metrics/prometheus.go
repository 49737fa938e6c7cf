package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "immigration_rag_search_duration_seconds",
			Help:    "Search processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_search_total",
			Help: "Total number of searches processed",
		},
		[]string{"status"},
	)

	SearchResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "immigration_rag_search_results_count",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_documents_processed_total",
			Help: "Total documents processed",
		},
		[]string{"status"},
	)

	ChunksProduced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "immigration_rag_chunks_produced_total",
			Help: "Total chunks produced by the chunker",
		},
	)

	ChunksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_chunks_skipped_total",
			Help: "Chunks left out of the index",
		},
		[]string{"reason"},
	)

	ChunkConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "immigration_rag_chunk_confidence",
			Help:    "Chunk boundary confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RelationshipsExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_relationships_extracted_total",
			Help: "Relationships extracted from documents",
		},
		[]string{"type"},
	)

	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_embedding_requests_total",
			Help: "Embedding requests sent to the provider",
		},
		[]string{"status"},
	)

	EmbeddingRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "immigration_rag_embedding_retries_total",
			Help: "Embedding attempts that were retried",
		},
	)

	StoreFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_store_failures_total",
			Help: "Records that could not be written or deleted",
		},
		[]string{"operation"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immigration_rag_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	KGRelationsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "immigration_rag_kg_relations_written_total",
			Help: "Relationships persisted to the knowledge graph",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SearchDuration)
		prometheus.MustRegister(SearchTotal)
		prometheus.MustRegister(SearchResultsCount)
		prometheus.MustRegister(DocumentsProcessed)
		prometheus.MustRegister(ChunksProduced)
		prometheus.MustRegister(ChunksSkipped)
		prometheus.MustRegister(ChunkConfidence)
		prometheus.MustRegister(RelationshipsExtracted)
		prometheus.MustRegister(EmbeddingRequests)
		prometheus.MustRegister(EmbeddingRetries)
		prometheus.MustRegister(StoreFailures)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(BreakerStateChanges)
		prometheus.MustRegister(KGRelationsWritten)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
