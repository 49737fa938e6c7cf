// Package app assembles the enrichment and retrieval components from
// configuration. Both the API server and the CLI start here.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/cache/redis"
	"github.com/immigration-rag/backend/internal/chunker"
	"github.com/immigration-rag/backend/internal/embedding"
	"github.com/immigration-rag/backend/internal/ingestion"
	"github.com/immigration-rag/backend/internal/kg/builder"
	"github.com/immigration-rag/backend/internal/kg/neo4j"
	"github.com/immigration-rag/backend/internal/query"
	"github.com/immigration-rag/backend/internal/rag"
	"github.com/immigration-rag/backend/internal/storage/sqlite"
	"github.com/immigration-rag/backend/internal/temporal"
	"github.com/immigration-rag/backend/internal/vector"
	"github.com/immigration-rag/backend/internal/vector/memory"
	"github.com/immigration-rag/backend/internal/vector/zilliz"
	"github.com/immigration-rag/backend/internal/vocab"
	"github.com/immigration-rag/backend/pkg/config"
	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/retry"
	"github.com/immigration-rag/backend/pkg/throttle"
)

// App holds the wired service and the clients it must close.
type App struct {
	Service *rag.Service
	Engine  *query.Engine

	closers []func() error
}

// New connects every enabled backend and returns the assembled service.
// Optional backends that fail to connect are logged and left out; the
// vector store and embedder are required.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	engineCfg := query.Config{
		Collection:         cfg.VectorStore.Collection,
		MinScore:           cfg.Retrieval.MinScore,
		DefaultLimit:       cfg.Retrieval.DefaultLimit,
		MaxLimit:           cfg.Retrieval.MaxLimit,
		InsightsLimit:      cfg.Retrieval.InsightsLimit,
		FlowDepth:          cfg.Retrieval.FlowDepth,
		GraphMinConfidence: cfg.Relationships.MinConfidence,
		CacheTTL:           time.Duration(cfg.Retrieval.CacheTTLSec) * time.Second,
	}
	if err := engineCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}

	a := &App{}

	v := vocab.Default()
	if cfg.Vocabulary.ExtraFile != "" {
		extended, err := vocab.LoadFile(v, cfg.Vocabulary.ExtraFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load vocabulary: %w", err)
		}
		v = extended
	}

	store, err := newVectorStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			cache = nil
		} else {
			a.closers = append(a.closers, cache.Close)
		}
	}

	emb := newEmbedder(cfg, cache)

	var registry *sqlite.Client
	if cfg.SQLite.Enabled {
		registry, err = sqlite.NewClient(cfg.SQLite.Path)
		if err == nil {
			err = registry.InitSchema()
		}
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open registry: %w", err)
		}
		a.closers = append(a.closers, registry.Close)
	}

	var graph *builder.Builder
	var graphClient *neo4j.Client
	if cfg.Neo4j.Enabled {
		graphClient, err = neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err == nil {
			err = graphClient.EnsureSchema(ctx)
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, continuing without graph", zap.Error(err))
			graphClient = nil
		} else {
			graph = builder.NewBuilder(graphClient, cfg.Relationships.MinConfidence)
			a.closers = append(a.closers, func() error { return graphClient.Close(context.Background()) })
		}
	}

	estimates := make(map[string]temporal.Estimate, len(cfg.Temporal.Estimates))
	for k, e := range cfg.Temporal.Estimates {
		estimates[k] = temporal.Estimate{MinDays: e.MinDays, MaxDays: e.MaxDays}
	}
	tracker := temporal.NewTracker(temporal.Config{
		HorizonDays:  cfg.Temporal.HorizonDays,
		UndatedScore: cfg.Temporal.UndatedScore,
		Estimates:    estimates,
	})

	retryCfg := retry.Config{
		MaxAttempts:    cfg.Ingestion.RetryAttempts,
		InitialDelay:   time.Duration(cfg.Ingestion.RetryInitialMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Ingestion.RetryMaxMs) * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	processor := ingestion.NewProcessor(v, chunker.New(v, chunker.Config{TargetWords: cfg.Chunker.TargetWords}), tracker, emb, ingestion.Config{
		Policy:      cfg.Relationships.Policy,
		FlowDepth:   cfg.Retrieval.FlowDepth,
		Concurrency: cfg.Throttle.MaxConcurrent,
		Retry:       retryCfg,
	})

	engineCfg.Retry = retryCfg
	engine := query.NewEngine(store, emb, v, tracker, engineCfg)

	svc := rag.NewService(processor, engine, store, emb, rag.Config{
		Collection:      cfg.VectorStore.Collection,
		Dimension:       cfg.VectorStore.Dimension,
		Backend:         cfg.VectorStore.Backend,
		Workers:         cfg.Ingestion.Workers,
		DocumentTimeout: time.Duration(cfg.Ingestion.DocumentTimeoutSec) * time.Second,
		Retry:           retryCfg,
	})

	if registry != nil {
		svc.WithRegistry(registry)
	}
	if graph != nil {
		processor.WithGraphSink(graph)
		engine.WithGraph(graphClient)
		svc.WithGraph(graph)
	}
	if cache != nil {
		engine.WithCache(cache)
		svc.WithCache(cache)
	}

	if err := svc.EnsureCollection(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Service = svc
	a.Engine = engine

	logger.Info("Application initialized",
		zap.String("vector_backend", cfg.VectorStore.Backend),
		zap.String("collection", cfg.VectorStore.Collection),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("registry", registry != nil),
		zap.Bool("graph", graph != nil),
		zap.Bool("cache", cache != nil),
	)

	return a, nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close client", zap.Error(err))
		}
	}
	a.closers = nil
}

func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig) (vector.Store, error) {
	switch cfg.Backend {
	case "milvus":
		c, err := zilliz.NewClient(ctx, cfg.Endpoint, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "memory", "":
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
}

// newEmbedder builds the provider and wraps it as Cached(Throttled(provider))
// so that cache hits never spend rate budget.
func newEmbedder(cfg *config.Config, cache *redis.Client) embedding.Embedder {
	var emb embedding.Embedder
	switch cfg.Embedding.Provider {
	case "hash":
		emb = embedding.NewHash(cfg.Embedding.Dimensions)
	default:
		emb = embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:        cfg.Embedding.APIKey,
			BaseURL:       cfg.Embedding.BaseURL,
			Model:         cfg.Embedding.Model,
			Dimensions:    cfg.Embedding.Dimensions,
			Timeout:       time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
			MaxInputChars: cfg.Embedding.MaxInputChars,
		})
		emb = embedding.NewThrottled(emb, throttle.New(throttle.Config{
			RequestsPerMinute: cfg.Throttle.RequestsPerMinute,
			Burst:             cfg.Throttle.Burst,
			MaxConcurrent:     cfg.Throttle.MaxConcurrent,
		}))
	}

	if cache != nil {
		emb = embedding.NewCached(emb, cache, time.Duration(cfg.Redis.TTLHours)*time.Hour)
	}
	return emb
}
