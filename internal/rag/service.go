package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/embedding"
	"github.com/immigration-rag/backend/internal/ingestion"
	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/internal/query"
	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/storage/sqlite"
	"github.com/immigration-rag/backend/internal/vector"
	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/retry"
	"github.com/immigration-rag/backend/pkg/utils"
)

// Registry records which documents and chunks the index holds.
type Registry interface {
	RegisterDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error
	TrimChunks(ctx context.Context, docID string, total int, contentHash string) error
	RecordRun(ctx context.Context, run *models.IngestionRun) error
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// Graph is the persisted relationship graph kept alongside the index.
type Graph interface {
	Forget(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
}

// QueryCache holds cached query responses that go stale when the index
// changes.
type QueryCache interface {
	InvalidateQueries(ctx context.Context) error
}

type Config struct {
	Collection      string
	Dimension       int
	Backend         string
	Workers         int
	DocumentTimeout time.Duration
	Retry           retry.Config
}

type Service struct {
	processor *ingestion.Processor
	engine    *query.Engine
	store     vector.Store
	embedder  embedding.Embedder
	registry  Registry
	graph     Graph
	cache     QueryCache
	cfg       Config
}

type Status struct {
	Collection      string `json:"collection"`
	Backend         string `json:"backend"`
	Records         int64  `json:"records"`
	Documents       int64  `json:"documents"`
	EmbeddingModel  string `json:"embedding_model"`
	Dimensions      int    `json:"dimensions"`
	RegistryEnabled bool   `json:"registry_enabled"`
	GraphEnabled    bool   `json:"graph_enabled"`
	CacheEnabled    bool   `json:"cache_enabled"`
}

func NewService(processor *ingestion.Processor, engine *query.Engine, store vector.Store, emb embedding.Embedder, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = 5 * time.Minute
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = emb.Dimensions()
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

	return &Service{
		processor: processor,
		engine:    engine,
		store:     store,
		embedder:  emb,
		cfg:       cfg,
	}
}

func (s *Service) WithRegistry(r Registry) *Service {
	s.registry = r
	return s
}

func (s *Service) WithGraph(g Graph) *Service {
	s.graph = g
	return s
}

func (s *Service) WithCache(c QueryCache) *Service {
	s.cache = c
	return s
}

// EnsureCollection creates the collection if it does not exist yet.
func (s *Service) EnsureCollection(ctx context.Context) error {
	if err := s.store.CreateCollection(ctx, s.cfg.Collection, s.cfg.Dimension); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

// ProcessDocumentEnhanced enriches a document without storing it.
func (s *Service) ProcessDocumentEnhanced(ctx context.Context, title, content, sourceURL string) ([]models.EnrichedRecord, error) {
	res, err := s.processor.ProcessDocument(ctx, title, content, sourceURL)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// StoreEnhancedChunks indexes records, embedding any that lack a vector.
// Individual failures are logged and counted; it returns false only when
// records were given and none of them could be stored.
func (s *Service) StoreEnhancedChunks(ctx context.Context, records []models.EnrichedRecord) bool {
	if len(records) == 0 {
		return true
	}
	out := s.index(ctx, records)
	return out.stored > 0
}

// Ingest enriches and stores one document and writes its audit run.
func (s *Service) Ingest(ctx context.Context, doc DocumentInput) (*DocumentReport, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("%w: document content is empty", query.ErrInvalidArgument)
	}

	res, err := s.processor.ProcessDocument(ctx, doc.Title, doc.Content, doc.SourceURL)
	if err != nil {
		return nil, err
	}

	out := s.index(ctx, res.Records)
	if out.stored > 0 {
		s.replaceStale(ctx, res)
	}

	if s.registry != nil {
		run := res.Run(uuid.New().String(), out.failed)
		if err := s.registry.RecordRun(ctx, run); err != nil {
			logger.Warn("Failed to record ingestion run", zap.String("document_id", res.DocumentID), zap.Error(err))
		}
	}

	report := &DocumentReport{
		DocumentID:    res.DocumentID,
		Title:         res.Title,
		SourceURL:     res.SourceURL,
		ChunksTotal:   res.ChunksTotal,
		Stored:        out.stored,
		Skipped:       res.Skipped,
		StoreFailures: out.failed,
		Relationships: res.Relationships,
	}
	if report.Skipped == nil {
		report.Skipped = []int{}
	}

	if len(res.Records) > 0 && out.stored == 0 {
		return report, fmt.Errorf("no chunks of %s could be stored", res.DocumentID)
	}
	return report, nil
}

type storeOutcome struct {
	stored int
	failed int
}

func (s *Service) index(ctx context.Context, records []models.EnrichedRecord) storeOutcome {
	var out storeOutcome

	ready := make([]vector.Record, 0, len(records))
	for i := range records {
		rec := records[i]
		if len(rec.Embedding) == 0 {
			vec, err := retry.DoWithResult(ctx, s.cfg.Retry, func() ([]float32, error) {
				return s.embedder.Embed(ctx, rec.Content)
			})
			if err != nil {
				logger.Warn("Skipping record without embedding", zap.String("id", rec.ID), zap.Error(err))
				metrics.StoreFailures.WithLabelValues("embed").Inc()
				out.failed++
				continue
			}
			rec.Embedding = vec
		}
		if rec.IndexedAt.IsZero() {
			rec.IndexedAt = time.Now().UTC()
		}
		ready = append(ready, vector.Record{ID: rec.ID, Vector: rec.Embedding, Payload: rec})
	}

	stored := s.upsert(ctx, ready)
	out.stored = len(stored)
	out.failed += len(ready) - len(stored)

	if out.stored > 0 {
		for _, doc := range groupByDocument(records) {
			s.register(ctx, doc, stored)
		}
		s.invalidate(ctx)
	}

	logger.Info("Stored enriched records",
		zap.String("collection", s.cfg.Collection),
		zap.Int("records", len(records)),
		zap.Int("stored", out.stored),
		zap.Int("failed", out.failed),
	)

	return out
}

// upsert writes records in one batch, falling back to one write per record
// when the batch is rejected. It returns the IDs that were stored.
func (s *Service) upsert(ctx context.Context, records []vector.Record) map[string]bool {
	stored := make(map[string]bool, len(records))
	if len(records) == 0 {
		return stored
	}

	err := s.store.Upsert(ctx, s.cfg.Collection, records)
	if err == nil {
		for _, r := range records {
			stored[r.ID] = true
		}
		return stored
	}

	logger.Warn("Batch upsert failed, storing records individually",
		zap.Int("records", len(records)),
		zap.Error(err),
	)
	metrics.StoreFailures.WithLabelValues("upsert_batch").Inc()

	for _, r := range records {
		if err := s.store.Upsert(ctx, s.cfg.Collection, []vector.Record{r}); err != nil {
			logger.Warn("Failed to store record", zap.String("id", r.ID), zap.Error(err))
			metrics.StoreFailures.WithLabelValues("upsert").Inc()
			continue
		}
		stored[r.ID] = true
	}
	return stored
}

type documentRecords struct {
	id      string
	records []models.EnrichedRecord
}

func groupByDocument(records []models.EnrichedRecord) []documentRecords {
	var docs []documentRecords
	index := map[string]int{}
	for _, r := range records {
		i, ok := index[r.DocumentID]
		if !ok {
			i = len(docs)
			index[r.DocumentID] = i
			docs = append(docs, documentRecords{id: r.DocumentID})
		}
		docs[i].records = append(docs[i].records, r)
	}
	return docs
}

// replaceStale removes chunks beyond the latest pass of a re-ingested
// document. Indexes the pass skipped keep their previous version.
func (s *Service) replaceStale(ctx context.Context, res *ingestion.Result) {
	if res.DocumentID == "" || res.ChunksTotal <= 0 {
		return
	}

	current := make([]int, res.ChunksTotal)
	for i := range current {
		current[i] = i
	}
	filter := vector.NewFilter().
		Where("document_id", vector.OpEq, res.DocumentID).
		Where("chunk_index", vector.OpNotIn, current)
	if err := s.store.Delete(ctx, s.cfg.Collection, nil, filter); err != nil {
		logger.Warn("Failed to remove stale chunks", zap.String("document_id", res.DocumentID), zap.Error(err))
		metrics.StoreFailures.WithLabelValues("prune").Inc()
	}

	if s.registry != nil {
		if err := s.registry.TrimChunks(ctx, res.DocumentID, res.ChunksTotal, res.ContentHash); err != nil {
			logger.Warn("Failed to trim registry chunks", zap.String("document_id", res.DocumentID), zap.Error(err))
			metrics.StoreFailures.WithLabelValues("registry").Inc()
		}
	}
}

func (s *Service) register(ctx context.Context, doc documentRecords, stored map[string]bool) {
	if s.registry == nil || doc.id == "" {
		return
	}

	first := doc.records[0]
	contents := make([]string, 0, len(doc.records))
	chunks := make([]models.DocumentChunk, 0, len(doc.records))
	count := 0
	for _, r := range doc.records {
		contents = append(contents, r.Content)
		chunks = append(chunks, models.DocumentChunk{
			ID:         r.ID,
			DocID:      doc.id,
			ChunkIndex: r.ChunkIndex,
			ChunkType:  string(r.ChunkType),
			Embedded:   stored[r.ID],
		})
		if stored[r.ID] {
			count++
		}
	}

	row := &models.Document{
		ID:          doc.id,
		URL:         first.SourceURL,
		Title:       first.DocumentTitle,
		ContentHash: utils.HashString(strings.Join(contents, "\n\n")),
		ChunkCount:  count,
	}
	if err := s.registry.RegisterDocument(ctx, row, chunks); err != nil {
		logger.Warn("Failed to register document", zap.String("document_id", doc.id), zap.Error(err))
		metrics.StoreFailures.WithLabelValues("registry").Inc()
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateQueries(ctx); err != nil {
		logger.Warn("Failed to invalidate query cache", zap.Error(err))
	}
}

func (s *Service) SemanticSearchEnhanced(ctx context.Context, q string, limit int, filters map[string]any) ([]query.Result, error) {
	return s.engine.SearchRaw(ctx, q, limit, filters)
}

func (s *Service) GetEntityInsights(ctx context.Context, entity string) (*query.EntityInsights, error) {
	return s.engine.EntityInsights(ctx, entity)
}

func (s *Service) ValidateUserPath(ctx context.Context, entities []string, country string) (*query.PathValidation, error) {
	return s.engine.ValidateUserPath(ctx, entities, country)
}

// DeleteDocument removes every record of a document from the index and
// its companions. Only the index deletion is fatal.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return fmt.Errorf("%w: document id is empty", query.ErrInvalidArgument)
	}

	filter := vector.NewFilter().Where("document_id", vector.OpEq, documentID)
	if err := s.store.Delete(ctx, s.cfg.Collection, nil, filter); err != nil {
		metrics.StoreFailures.WithLabelValues("delete").Inc()
		return fmt.Errorf("failed to delete %s from index: %w", documentID, err)
	}

	if s.registry != nil {
		if err := s.registry.DeleteDocument(ctx, documentID); err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			logger.Warn("Failed to delete document from registry", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	if s.graph != nil {
		if err := s.graph.Forget(ctx, documentID); err != nil {
			logger.Warn("Failed to delete document from graph", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	s.invalidate(ctx)

	logger.Info("Document deleted", zap.String("document_id", documentID))
	return nil
}

// ClearCollection drops and recreates the collection and empties the
// registry, graph and query cache.
func (s *Service) ClearCollection(ctx context.Context) error {
	if err := s.store.DropCollection(ctx, s.cfg.Collection); err != nil && !errors.Is(err, vector.ErrCollectionNotFound) {
		return fmt.Errorf("failed to drop collection %s: %w", s.cfg.Collection, err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}

	if s.registry != nil {
		if err := s.registry.Clear(ctx); err != nil {
			logger.Warn("Failed to clear registry", zap.Error(err))
		}
	}
	if s.graph != nil {
		if err := s.graph.Clear(ctx); err != nil {
			logger.Warn("Failed to clear graph", zap.Error(err))
		}
	}
	s.invalidate(ctx)

	logger.Info("Collection cleared", zap.String("collection", s.cfg.Collection))
	return nil
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	records, err := s.store.Count(ctx, s.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	st := &Status{
		Collection:      s.cfg.Collection,
		Backend:         s.cfg.Backend,
		Records:         records,
		Documents:       -1,
		EmbeddingModel:  s.embedder.Model(),
		Dimensions:      s.embedder.Dimensions(),
		RegistryEnabled: s.registry != nil,
		GraphEnabled:    s.graph != nil,
		CacheEnabled:    s.cache != nil,
	}
	if s.registry != nil {
		n, err := s.registry.CountDocuments(ctx)
		if err != nil {
			logger.Warn("Failed to count registered documents", zap.Error(err))
		} else {
			st.Documents = n
		}
	}
	return st, nil
}
