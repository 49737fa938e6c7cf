package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/immigration-rag/backend/internal/chunker"
	"github.com/immigration-rag/backend/internal/embedding"
	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/internal/relations"
	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/temporal"
	"github.com/immigration-rag/backend/internal/vocab"
	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/retry"
	"github.com/immigration-rag/backend/pkg/utils"
)

const (
	PolicyEntityIntersection = "entity_intersection"
	PolicyPhraseChunk        = "phrase_chunk"
)

// GraphSink receives each document's relationships for persistence outside
// the vector index.
type GraphSink interface {
	Record(ctx context.Context, documentID string, rels []models.Relationship) error
}

type Config struct {
	// Policy decides which chunks a relationship decorates.
	Policy string
	// FlowDepth bounds the process flows attached to each record.
	FlowDepth int
	// Concurrency bounds in-flight embedding calls for one document.
	Concurrency int
	Retry       retry.Config
}

// Result is the outcome of enriching one document.
type Result struct {
	DocumentID    string
	Title         string
	SourceURL     string
	ContentHash   string
	Records       []models.EnrichedRecord
	ChunksTotal   int
	Skipped       []int
	Relationships int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Run converts the result into its registry audit row.
func (r *Result) Run(id string, storeFailures int) *models.IngestionRun {
	return &models.IngestionRun{
		ID:             id,
		DocID:          r.DocumentID,
		ChunksTotal:    r.ChunksTotal,
		ChunksEmbedded: len(r.Records),
		ChunksSkipped:  len(r.Skipped),
		StoreFailures:  storeFailures,
		Relationships:  r.Relationships,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

type Processor struct {
	vocab     *vocab.Vocabulary
	chunker   *chunker.Chunker
	extractor *relations.Extractor
	tracker   *temporal.Tracker
	embedder  embedding.Embedder
	graph     GraphSink
	cfg       Config
}

func NewProcessor(v *vocab.Vocabulary, ch *chunker.Chunker, tr *temporal.Tracker, emb embedding.Embedder, cfg Config) *Processor {
	if cfg.Policy == "" {
		cfg.Policy = PolicyEntityIntersection
	}
	if cfg.FlowDepth <= 0 {
		cfg.FlowDepth = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
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

	return &Processor{
		vocab:     v,
		chunker:   ch,
		extractor: relations.NewExtractor(v),
		tracker:   tr,
		embedder:  emb,
		cfg:       cfg,
	}
}

// WithGraphSink makes the processor hand every document's relationships to
// sink. Sink failures are logged and do not fail the document.
func (p *Processor) WithGraphSink(sink GraphSink) *Processor {
	p.graph = sink
	return p
}

// ProcessDocument enriches one document into records ready for the index.
// A chunk whose embedding cannot be produced after retries is left out and
// listed in Result.Skipped; only cancellation of ctx fails the call.
func (p *Processor) ProcessDocument(ctx context.Context, title, content, sourceURL string) (*Result, error) {
	started := time.Now().UTC()

	if LooksLikeHTML(content) {
		pageTitle, text := CleanHTML(content)
		content = text
		if strings.TrimSpace(title) == "" {
			title = pageTitle
		}
	}
	title = strings.TrimSpace(title)

	docID := utils.DocumentID(sourceURL, title)
	res := &Result{
		DocumentID:  docID,
		Title:       title,
		SourceURL:   sourceURL,
		ContentHash: utils.HashString(content),
		StartedAt:   started,
	}

	log := logger.GetLogger().With(zap.String("document_id", docID))
	log.Info("Processing document", zap.String("title", title), zap.String("source_url", sourceURL))

	chunks := p.chunker.Chunk(title, content)
	res.ChunksTotal = len(chunks)
	if len(chunks) == 0 {
		log.Info("Document has no content to index")
		res.FinishedAt = time.Now().UTC()
		return res, nil
	}

	forms, permits := p.knownEntities(content, chunks)
	graph := relations.NewGraph(p.extractor.Extract(content, forms, permits))
	rels := graph.Relationships()
	res.Relationships = len(rels)
	for _, r := range rels {
		metrics.RelationshipsExtracted.WithLabelValues(string(r.Type)).Inc()
	}

	facts := p.tracker.Extract(content, title)
	summary := p.tracker.Summarize(facts, p.tracker.Now())

	records := make([]models.EnrichedRecord, len(chunks))
	for i, c := range chunks {
		records[i] = p.decorate(docID, title, sourceURL, c, graph, facts, summary)
		metrics.ChunkConfidence.Observe(c.ConfidenceScore)
	}
	metrics.ChunksProduced.Add(float64(len(chunks)))

	embedded, err := p.embedAll(ctx, log, records)
	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	for i := range records {
		if embedded[i] {
			res.Records = append(res.Records, records[i])
		} else {
			res.Skipped = append(res.Skipped, records[i].ChunkIndex)
		}
	}

	if p.graph != nil && len(rels) > 0 {
		if err := p.graph.Record(ctx, docID, rels); err != nil {
			log.Warn("Failed to persist relationship graph", zap.Error(err))
		}
	}

	status := "success"
	if len(res.Skipped) > 0 {
		status = "partial"
	}
	metrics.DocumentsProcessed.WithLabelValues(status).Inc()

	res.FinishedAt = time.Now().UTC()
	log.Info("Document processed",
		zap.Int("chunks", len(chunks)),
		zap.Int("records", len(res.Records)),
		zap.Ints("skipped", res.Skipped),
		zap.Int("relationships", len(rels)),
		zap.Duration("duration", res.FinishedAt.Sub(started)),
	)

	return res, nil
}

// knownEntities merges the forms and permit types found by chunking with a
// scan of the whole text.
func (p *Processor) knownEntities(text string, chunks []models.Chunk) (forms, permits []string) {
	all := p.vocab.Scan(text)
	seen := map[string]bool{}
	add := func(dst *[]string, values []string) {
		for _, v := range values {
			key := strings.ToUpper(v)
			if !seen[key] {
				seen[key] = true
				*dst = append(*dst, v)
			}
		}
	}

	add(&forms, all.Forms)
	add(&permits, all.PermitTypes)
	for _, c := range chunks {
		add(&forms, c.Entities.Forms)
		add(&permits, c.Entities.PermitTypes)
	}
	return forms, permits
}

func (p *Processor) decorate(docID, title, sourceURL string, c models.Chunk, graph *relations.Graph,
	facts []models.TemporalFact, summary models.TemporalSummary) models.EnrichedRecord {
	rec := models.EnrichedRecord{
		ID:              utils.ChunkID(docID, c.Index),
		DocumentID:      docID,
		Content:         c.Content,
		DocumentTitle:   title,
		SourceURL:       sourceURL,
		ChunkType:       c.ChunkType,
		SectionTitle:    c.SectionTitle,
		SubsectionTitle: c.SubsectionTitle,
		ChunkIndex:      c.Index,
		ConfidenceScore: c.ConfidenceScore,
		FormNumbers:     nonNil(c.Entities.Forms),
		VisaTypes:       nonNil(c.Entities.PermitTypes),
		Requirements:    nonNil(c.Entities.Requirements),
		Fees:            nonNil(c.Entities.Fees),
		Countries:       nonNil(c.Entities.Countries),
		Relationships:   p.associate(c, graph),
		Dependencies:    map[string][]string{},
		ProcessFlows:    [][]string{},
		TemporalInfo:    facts,
		IsCurrent:       summary.IsCurrent,
		FreshnessScore:  summary.FreshnessScore,
		EffectiveDate:   summary.EffectiveDate,
		ExpirationDate:  summary.ExpirationDate,
		IndexedAt:       time.Now().UTC(),
	}
	if rec.TemporalInfo == nil {
		rec.TemporalInfo = []models.TemporalFact{}
	}

	seenFlow := map[string]bool{}
	for _, e := range c.Entities.Nodes() {
		if deps := graph.Dependencies(e).Prerequisites; len(deps) > 0 {
			rec.Dependencies[e] = deps
		}
		for _, flow := range graph.ProcessFlow(e, p.cfg.FlowDepth) {
			key := strings.Join(flow, "\x00")
			if !seenFlow[key] {
				seenFlow[key] = true
				rec.ProcessFlows = append(rec.ProcessFlows, flow)
			}
		}
	}
	return rec
}

// associate picks the document relationships that decorate chunk c.
func (p *Processor) associate(c models.Chunk, graph *relations.Graph) []models.Relationship {
	out := []models.Relationship{}

	if p.cfg.Policy == PolicyPhraseChunk {
		content := squash(c.Content)
		for _, r := range graph.Relationships() {
			if r.Context != "" && strings.Contains(content, r.Context) {
				out = append(out, r)
			}
		}
		return out
	}

	nodes := map[string]bool{}
	for _, e := range c.Entities.Nodes() {
		nodes[strings.ToUpper(e)] = true
	}
	for _, r := range graph.Relationships() {
		if nodes[strings.ToUpper(r.Source)] || nodes[strings.ToUpper(r.Target)] {
			out = append(out, r)
		}
	}
	return out
}

// embedAll embeds every record concurrently and reports which succeeded.
func (p *Processor) embedAll(ctx context.Context, log *zap.Logger, records []models.EnrichedRecord) ([]bool, error) {
	ok := make([]bool, len(records))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i := range records {
		g.Go(func() error {
			vec, err := retry.DoWithResult(gctx, p.cfg.Retry, func() ([]float32, error) {
				return p.embedder.Embed(gctx, records[i].Content)
			})
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				metrics.ChunksSkipped.WithLabelValues(skipReason(err)).Inc()
				log.Warn("Skipping chunk after embedding failure",
					zap.Int("chunk_index", records[i].ChunkIndex),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			records[i].Embedding = vec
			ok[i] = true
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	return ok, nil
}

func skipReason(err error) string {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return "embedding_retries_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "embedding_timeout"
	default:
		return "embedding_failed"
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
