package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/embedding"
	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/temporal"
	"github.com/immigration-rag/backend/internal/vector"
	"github.com/immigration-rag/backend/internal/vocab"
	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/retry"
)

var ErrInvalidArgument = errors.New("invalid argument")

// overfetch is how many candidates are requested per wanted result, since
// results are rescored and narrowed after the store returns them.
const overfetch = 3

// maxFetchGrowth bounds how far a search widens its candidate page, as a
// multiple of MaxLimit*overfetch.
const maxFetchGrowth = 4

// GraphSource supplies relationships persisted outside the index.
type GraphSource interface {
	Neighbourhood(ctx context.Context, entities []string, hops int, minConfidence float64) ([]models.Relationship, error)
}

// Cache stores JSON-encodable responses by key.
type Cache interface {
	GetQuery(ctx context.Context, key string, response any) (bool, error)
	SetQuery(ctx context.Context, key string, response any, ttl time.Duration) error
}

type Config struct {
	Collection         string
	MinScore           float64
	DefaultLimit       int
	MaxLimit           int
	InsightsLimit      int
	FlowDepth          int
	GraphMinConfidence float64
	CacheTTL           time.Duration
	Retry              retry.Config
}

// Validate rejects negative limits and depths. Zero selects the default.
func (c Config) Validate() error {
	switch {
	case c.DefaultLimit < 0, c.MaxLimit < 0, c.InsightsLimit < 0:
		return fmt.Errorf("%w: search limits must not be negative", ErrInvalidArgument)
	case c.FlowDepth < 0:
		return fmt.Errorf("%w: flow depth must not be negative, got %d", ErrInvalidArgument, c.FlowDepth)
	case c.MinScore < 0 || c.MinScore > 1:
		return fmt.Errorf("%w: min score must be within [0,1], got %g", ErrInvalidArgument, c.MinScore)
	case c.MaxLimit > 0 && c.DefaultLimit > c.MaxLimit:
		return fmt.Errorf("%w: default limit %d exceeds max limit %d", ErrInvalidArgument, c.DefaultLimit, c.MaxLimit)
	}
	return nil
}

type Engine struct {
	store    vector.Store
	embedder embedding.Embedder
	vocab    *vocab.Vocabulary
	tracker  *temporal.Tracker
	graph    GraphSource
	cache    Cache
	cfg      Config
}

// Result is one search hit. The record's currency and freshness reflect
// the time of the search.
type Result struct {
	ID     string                `json:"id"`
	Score  float64               `json:"score"`
	Record models.EnrichedRecord `json:"record"`
}

func NewEngine(store vector.Store, emb embedding.Embedder, v *vocab.Vocabulary, tr *temporal.Tracker, cfg Config) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.InsightsLimit <= 0 {
		cfg.InsightsLimit = 10
	}
	if cfg.FlowDepth <= 0 {
		cfg.FlowDepth = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger.GetLogger()
	}
	cfg.Retry.OnRetry = func(int, error) {
		metrics.EmbeddingRetries.Inc()
	}

	return &Engine{store: store, embedder: emb, vocab: v, tracker: tr, cfg: cfg}
}

func (e *Engine) WithGraph(g GraphSource) *Engine {
	e.graph = g
	return e
}

func (e *Engine) WithCache(c Cache) *Engine {
	e.cache = c
	return e
}

// Search embeds query and returns up to limit records by descending
// similarity, ties going to the fresher record. A limit of 0 selects the
// default.
func (e *Engine) Search(ctx context.Context, query string, limit int, filters Filters) ([]Result, error) {
	start := time.Now()
	results, err := e.search(ctx, query, limit, filters, e.cfg.MinScore)

	metrics.SearchDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchTotal.WithLabelValues("success").Inc()
	metrics.SearchResultsCount.Observe(float64(len(results)))
	return results, nil
}

// SearchRaw is Search for callers holding an untyped filter map.
func (e *Engine) SearchRaw(ctx context.Context, query string, limit int, raw map[string]any) ([]Result, error) {
	filters, err := ParseFilters(raw)
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, query, limit, filters)
}

func (e *Engine) search(ctx context.Context, query string, limit int, filters Filters, minScore float64) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}
	if limit < 0 || limit > e.cfg.MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 0 and %d, got %d", ErrInvalidArgument, e.cfg.MaxLimit, limit)
	}
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}

	filters = filters.canonical(e.vocab)
	storeFilter := filters.storeFilter()
	if err := storeFilter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	vec, err := retry.DoWithResult(ctx, e.cfg.Retry, func() ([]float32, error) {
		return e.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	now := e.tracker.Now()
	fetch := limit * overfetch
	maxFetch := e.cfg.MaxLimit * overfetch * maxFetchGrowth

	var matches []vector.Match
	var results []Result
	for {
		matches, err = e.store.Search(ctx, e.cfg.Collection, vec, fetch, storeFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to search vector store: %w", err)
		}
		results = e.collect(matches, filters, minScore, now)
		if len(matches) < fetch || fetch >= maxFetch || !truncatedAtCutoff(matches, results, limit, minScore) {
			break
		}
		fetch = min(fetch*2, maxFetch)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.FreshnessScore > results[j].Record.FreshnessScore
	})
	if len(results) > limit {
		results = results[:limit]
	}

	logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("limit", limit),
		zap.Int("candidates", len(matches)),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func (e *Engine) collect(matches []vector.Match, filters Filters, minScore float64, now time.Time) []Result {
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if float64(m.Score) < minScore {
			continue
		}
		rec := m.Payload
		e.rescore(&rec, now)
		if !filters.accept(&rec) {
			continue
		}
		id := m.ID
		if id == "" {
			id = rec.ID
		}
		results = append(results, Result{ID: id, Score: float64(m.Score), Record: rec})
	}
	return results
}

// truncatedAtCutoff reports whether a full page of matches may have cut
// off candidates that belong in the top limit: too few survived
// filtering, or the limit-th result ties the last candidate fetched, so a
// fresher record of equal score may sit beyond the page. Matches arrive in
// descending score order.
func truncatedAtCutoff(matches []vector.Match, results []Result, limit int, minScore float64) bool {
	if len(matches) == 0 {
		return false
	}
	last := float64(matches[len(matches)-1].Score)
	if last < minScore {
		return false
	}
	if len(results) < limit {
		return true
	}

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	return last >= scores[limit-1]
}

// rescore recomputes the time-dependent fields from the stored facts.
func (e *Engine) rescore(r *models.EnrichedRecord, now time.Time) {
	s := e.tracker.Summarize(r.TemporalInfo, now)
	r.IsCurrent = s.IsCurrent
	r.FreshnessScore = s.FreshnessScore
}
