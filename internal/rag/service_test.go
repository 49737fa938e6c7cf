package rag

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigration-rag/backend/internal/chunker"
	"github.com/immigration-rag/backend/internal/ingestion"
	"github.com/immigration-rag/backend/internal/query"
	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/temporal"
	"github.com/immigration-rag/backend/internal/vector"
	"github.com/immigration-rag/backend/internal/vector/memory"
	"github.com/immigration-rag/backend/internal/vocab"
	"github.com/immigration-rag/backend/pkg/retry"
)

const collection = "immigration_docs_enhanced"

const guide = `# Eligibility

You may apply for a Green Card through a family member. Form I-130 must be approved before filing Form I-485.

# Documents

Bring your passport and birth certificate to the interview.

# Medical

A medical examination is required for every applicant.

# Fees

The filing fee for Form I-485 is $1,225.

# Timing

This guidance is effective January 1, 2024.
`

type lengthEmbedder struct {
	mu    sync.Mutex
	calls int
	// failOn makes every text containing it fail to embed.
	failOn string
}

func (l *lengthEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	l.mu.Lock()
	l.calls++
	failOn := l.failOn
	l.mu.Unlock()
	if failOn != "" && strings.Contains(text, failOn) {
		return nil, errors.New("embedding unavailable")
	}
	return []float32{float32(len(text)%7) + 1, 1, float32(len(text) % 3)}, nil
}

func (l *lengthEmbedder) Dimensions() int { return 3 }
func (l *lengthEmbedder) Model() string   { return "length" }

// flakyStore rejects multi-record batches and any record whose ID contains
// reject.
type flakyStore struct {
	*memory.Store
	reject string
}

func (f *flakyStore) Upsert(ctx context.Context, name string, records []vector.Record) error {
	if len(records) > 1 {
		return errors.New("batch rejected")
	}
	for _, r := range records {
		if f.reject != "" && strings.Contains(r.ID, f.reject) {
			return errors.New("record rejected")
		}
	}
	return f.Store.Upsert(ctx, name, records)
}

type fakeRegistry struct {
	mu      sync.Mutex
	docs    map[string]*models.Document
	chunks  map[string][]models.DocumentChunk
	runs    []*models.IngestionRun
	cleared bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{docs: map[string]*models.Document{}, chunks: map[string][]models.DocumentChunk{}}
}

func (f *fakeRegistry) RegisterDocument(_ context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged := f.chunks[doc.ID]
	for _, c := range chunks {
		replaced := false
		for i := range merged {
			if merged[i].ID == c.ID {
				merged[i] = c
				replaced = true
			}
		}
		if !replaced {
			merged = append(merged, c)
		}
	}
	f.chunks[doc.ID] = merged
	f.docs[doc.ID] = doc
	f.recount(doc.ID)
	return nil
}

func (f *fakeRegistry) TrimChunks(_ context.Context, docID string, total int, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.DocumentChunk
	for _, c := range f.chunks[docID] {
		if c.ChunkIndex < total {
			kept = append(kept, c)
		}
	}
	f.chunks[docID] = kept
	if doc, ok := f.docs[docID]; ok && contentHash != "" {
		doc.ContentHash = contentHash
	}
	f.recount(docID)
	return nil
}

func (f *fakeRegistry) recount(docID string) {
	doc, ok := f.docs[docID]
	if !ok {
		return
	}
	doc.ChunkCount = 0
	for _, c := range f.chunks[docID] {
		if c.Embedded {
			doc.ChunkCount++
		}
	}
}

func (f *fakeRegistry) RecordRun(_ context.Context, run *models.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRegistry) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	delete(f.chunks, id)
	return nil
}

func (f *fakeRegistry) CountDocuments(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.docs)), nil
}

func (f *fakeRegistry) Clear(context.Context) error {
	f.cleared = true
	return nil
}

type countingCache struct {
	invalidations int
}

func (c *countingCache) InvalidateQueries(context.Context) error {
	c.invalidations++
	return nil
}

func newTestService(t *testing.T, store vector.Store) (*Service, *lengthEmbedder) {
	t.Helper()
	emb := &lengthEmbedder{}
	v := vocab.Default()
	tracker := temporal.NewTracker(temporal.Config{}).WithClock(func() time.Time {
		return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	})
	fast := retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	processor := ingestion.NewProcessor(v, chunker.New(v, chunker.Config{}), tracker, emb, ingestion.Config{Retry: fast})
	engine := query.NewEngine(store, emb, v, tracker, query.Config{Collection: collection, Retry: fast})
	svc := NewService(processor, engine, store, emb, Config{
		Collection: collection,
		Backend:    "memory",
		Workers:    2,
		Retry:      fast,
	})
	require.NoError(t, svc.EnsureCollection(context.Background()))
	return svc, emb
}

func chunkIndexes(t *testing.T, store vector.Store, documentID string) []int {
	t.Helper()
	matches, err := store.Search(context.Background(), collection, []float32{1, 1, 1}, 100,
		vector.NewFilter().Where("document_id", vector.OpEq, documentID))
	require.NoError(t, err)
	var out []int
	for _, m := range matches {
		out = append(out, m.Payload.ChunkIndex)
	}
	sort.Ints(out)
	return out
}

func TestIngest_ReindexReplacesChunks(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, DocumentInput{Title: "Green Card Guide", Content: guide, SourceURL: "https://example.gov/gc"})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Stored)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, chunkIndexes(t, store, first.DocumentID))

	shorter := guide[:strings.Index(guide, "# Fees")]
	second, err := svc.Ingest(ctx, DocumentInput{Title: "Green Card Guide", Content: shorter, SourceURL: "https://example.gov/gc"})
	require.NoError(t, err)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 3, second.Stored)
	assert.Equal(t, []int{0, 1, 2}, chunkIndexes(t, store, second.DocumentID))

	n, err := store.Count(ctx, collection)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestStoreEnhancedChunks_BatchesAccumulate(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	registry := newFakeRegistry()
	svc.WithRegistry(registry)
	ctx := context.Background()

	records, err := svc.ProcessDocumentEnhanced(ctx, "Green Card Guide", guide, "https://example.gov/gc")
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.True(t, svc.StoreEnhancedChunks(ctx, records[:2]))
	assert.True(t, svc.StoreEnhancedChunks(ctx, records[2:]))

	docID := records[0].DocumentID
	assert.Equal(t, []int{0, 1, 2, 3, 4}, chunkIndexes(t, store, docID))
	assert.Len(t, registry.chunks[docID], 5)
	assert.Equal(t, 5, registry.docs[docID].ChunkCount)
}

func TestIngest_SkippedChunkKeepsPreviousVersion(t *testing.T) {
	store := memory.NewStore()
	svc, emb := newTestService(t, store)
	registry := newFakeRegistry()
	svc.WithRegistry(registry)
	ctx := context.Background()

	doc := DocumentInput{Title: "Green Card Guide", Content: guide, SourceURL: "https://example.gov/gc"}
	first, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, 5, first.Stored)

	emb.mu.Lock()
	emb.failOn = "medical examination"
	emb.mu.Unlock()

	second, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, second.Skipped)
	assert.Equal(t, 4, second.Stored)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, chunkIndexes(t, store, first.DocumentID))
	assert.Len(t, registry.chunks[first.DocumentID], 5)
}

func TestStoreEnhancedChunks_PerRecordFailureIsNotFatal(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), reject: "_chunk_1"}
	svc, _ := newTestService(t, store)
	registry := newFakeRegistry()
	cache := &countingCache{}
	svc.WithRegistry(registry).WithCache(cache)
	ctx := context.Background()

	records, err := svc.ProcessDocumentEnhanced(ctx, "Green Card Guide", guide, "https://example.gov/gc")
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.True(t, svc.StoreEnhancedChunks(ctx, records))

	n, err := store.Count(ctx, collection)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, 1, cache.invalidations)

	docID := records[0].DocumentID
	require.Contains(t, registry.docs, docID)
	assert.Equal(t, 4, registry.docs[docID].ChunkCount)
	for _, c := range registry.chunks[docID] {
		assert.Equal(t, c.ChunkIndex != 1, c.Embedded, "chunk %d", c.ChunkIndex)
	}
}

func TestStoreEnhancedChunks_NothingStored(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), reject: "_chunk_"}
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	records, err := svc.ProcessDocumentEnhanced(ctx, "Green Card Guide", guide, "https://example.gov/gc")
	require.NoError(t, err)

	assert.False(t, svc.StoreEnhancedChunks(ctx, records))
	assert.True(t, svc.StoreEnhancedChunks(ctx, nil))
}

func TestStoreEnhancedChunks_EmbedsMissingVectors(t *testing.T) {
	store := memory.NewStore()
	svc, emb := newTestService(t, store)
	ctx := context.Background()

	records := []models.EnrichedRecord{
		{ID: "doc-1_chunk_0", DocumentID: "doc-1", Content: "Form I-130 petition", ChunkType: models.ChunkNarrative},
		{ID: "doc-1_chunk_1", DocumentID: "doc-1", ChunkIndex: 1, Content: "Fee $535", ChunkType: models.ChunkNarrative, Embedding: []float32{1, 0, 0}},
	}

	assert.True(t, svc.StoreEnhancedChunks(ctx, records))
	assert.Equal(t, 1, emb.calls)

	n, err := store.Count(ctx, collection)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestIngestBatch_IsolatesFailures(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	registry := newFakeRegistry()
	svc.WithRegistry(registry)

	report := svc.IngestBatch(context.Background(), []DocumentInput{
		{Title: "Green Card Guide", Content: guide, SourceURL: "https://example.gov/gc"},
		{Title: "Empty", Content: "   "},
		{Title: "Fees", Content: "The filing fee for Form N-400 is $710.", SourceURL: "https://example.gov/fees"},
	})

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Documents, 3)
	assert.Equal(t, 5, report.Documents[0].Stored)
	assert.NotEmpty(t, report.Documents[1].Error)
	assert.Equal(t, 1, report.Documents[2].Stored)
	assert.Len(t, registry.runs, 2)

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 6, st.Records)
	assert.EqualValues(t, 2, st.Documents)
	assert.Equal(t, "length", st.EmbeddingModel)
	assert.True(t, st.RegistryEnabled)
	assert.False(t, st.GraphEnabled)
}

func TestDeleteDocument(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	registry := newFakeRegistry()
	svc.WithRegistry(registry)
	ctx := context.Background()

	gc, err := svc.Ingest(ctx, DocumentInput{Title: "Green Card Guide", Content: guide, SourceURL: "https://example.gov/gc"})
	require.NoError(t, err)
	fees, err := svc.Ingest(ctx, DocumentInput{Title: "Fees", Content: "The filing fee for Form N-400 is $710.", SourceURL: "https://example.gov/fees"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(ctx, gc.DocumentID))

	assert.Empty(t, chunkIndexes(t, store, gc.DocumentID))
	assert.Equal(t, []int{0}, chunkIndexes(t, store, fees.DocumentID))
	assert.NotContains(t, registry.docs, gc.DocumentID)

	assert.ErrorIs(t, svc.DeleteDocument(ctx, " "), query.ErrInvalidArgument)
}

func TestClearCollection(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	registry := newFakeRegistry()
	svc.WithRegistry(registry)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, DocumentInput{Title: "Green Card Guide", Content: guide, SourceURL: "https://example.gov/gc"})
	require.NoError(t, err)

	require.NoError(t, svc.ClearCollection(ctx))

	n, err := store.Count(ctx, collection)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, registry.cleared)
}

func TestSemanticSearchEnhanced_DelegatesToEngine(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, DocumentInput{Title: "Green Card Guide", Content: guide, SourceURL: "https://example.gov/gc"})
	require.NoError(t, err)

	_, err = svc.SemanticSearchEnhanced(ctx, "fees", 5, map[string]any{"colour": "blue"})
	assert.ErrorIs(t, err, query.ErrInvalidArgument)

	results, err := svc.SemanticSearchEnhanced(ctx, "fees", 5, map[string]any{"form_numbers": []any{"I-485"}})
	require.NoError(t, err)
	for _, r := range results {
		assert.Contains(t, r.Record.FormNumbers, "I-485")
	}
}
