package builder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/internal/relations"
	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/pkg/logger"
)

// GraphStore is the persistence side of the relationship graph.
type GraphStore interface {
	UpsertRelationships(ctx context.Context, documentID string, rels []models.Relationship) error
	DeleteDocument(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
}

// Run summarises one document's write to the graph store.
type Run struct {
	ID         string
	DocumentID string
	Written    int
	Skipped    int
}

type Builder struct {
	store         GraphStore
	minConfidence float64
}

func NewBuilder(store GraphStore, minConfidence float64) *Builder {
	return &Builder{store: store, minConfidence: minConfidence}
}

// BuildFromDocument persists a document's relationships. Edges below the
// confidence floor are skipped and duplicates collapse to the strongest.
func (b *Builder) BuildFromDocument(ctx context.Context, documentID string, rels []models.Relationship) (Run, error) {
	run := Run{ID: uuid.New().String(), DocumentID: documentID}

	kept := make([]models.Relationship, 0, len(rels))
	for _, r := range rels {
		if r.Confidence < b.minConfidence {
			run.Skipped++
			continue
		}
		kept = append(kept, r)
	}
	kept = relations.NewGraph(kept).Relationships()

	if len(kept) == 0 {
		logger.Debug("No relationships to persist",
			zap.String("run_id", run.ID),
			zap.String("document_id", documentID),
			zap.Int("skipped", run.Skipped),
		)
		return run, nil
	}

	if err := b.store.UpsertRelationships(ctx, documentID, kept); err != nil {
		return run, fmt.Errorf("failed to persist relationships for %s: %w", documentID, err)
	}
	run.Written = len(kept)
	metrics.KGRelationsWritten.Add(float64(run.Written))

	logger.Info("KG built from document",
		zap.String("run_id", run.ID),
		zap.String("document_id", documentID),
		zap.Int("written", run.Written),
		zap.Int("skipped", run.Skipped),
	)

	return run, nil
}

// Record satisfies the ingestion pipeline's graph sink.
func (b *Builder) Record(ctx context.Context, documentID string, rels []models.Relationship) error {
	_, err := b.BuildFromDocument(ctx, documentID, rels)
	return err
}

func (b *Builder) Forget(ctx context.Context, documentID string) error {
	if err := b.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to remove %s from graph: %w", documentID, err)
	}
	return nil
}

func (b *Builder) Clear(ctx context.Context) error {
	if err := b.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear graph: %w", err)
	}
	logger.Info("KG cleared")
	return nil
}
