package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/utils"
)

type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Cached serves repeated texts from a cache. Cache failures fall through to
// the wrapped embedder.
type Cached struct {
	next  Embedder
	cache Cache
	ttl   time.Duration
}

func NewCached(next Embedder, cache Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (c *Cached) Model() string {
	return c.next.Model()
}

func (c *Cached) Dimensions() int {
	return c.next.Dimensions()
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(fmt.Sprintf("%s|%d|%s", c.next.Model(), c.next.Dimensions(), text))

	cached, ok, err := c.cache.GetEmbedding(ctx, key)
	switch {
	case err != nil:
		logger.Warn("Embedding cache read failed", zap.Error(err))
	case ok:
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return cached, nil
	default:
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	embedding, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetEmbedding(ctx, key, embedding, c.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return embedding, nil
}
