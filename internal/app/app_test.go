package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigration-rag/backend/internal/query"
	"github.com/immigration-rag/backend/internal/rag"
	"github.com/immigration-rag/backend/pkg/config"
)

func localConfig() *config.Config {
	return &config.Config{
		VectorStore: config.VectorStoreConfig{Backend: "memory", Collection: "test_docs", Dimension: 128},
		Embedding:   config.EmbeddingConfig{Provider: "hash", Dimensions: 128},
		Throttle:    config.ThrottleConfig{RequestsPerMinute: 600, Burst: 10, MaxConcurrent: 2},
		Temporal: config.TemporalConfig{
			HorizonDays:  365,
			UndatedScore: 0.5,
			Estimates:    map[string]config.EstimateConfig{"I-130": {MinDays: 20, MaxDays: 40}},
		},
		Retrieval:     config.RetrievalConfig{MinScore: 0.1, DefaultLimit: 5, MaxLimit: 50, InsightsLimit: 10, FlowDepth: 3},
		Ingestion:     config.IngestionConfig{Workers: 2, DocumentTimeoutSec: 30, RetryAttempts: 2, RetryInitialMs: 1, RetryMaxMs: 2},
		Relationships: config.RelationshipsConfig{Policy: "entity_intersection", MinConfidence: 0.5},
	}
}

func TestNew_LocalStack(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, localConfig())
	require.NoError(t, err)
	defer a.Close()

	report, err := a.Service.Ingest(ctx, rag.DocumentInput{
		Title:     "Family petitions",
		Content:   "# Petition\n\nForm I-130 must be approved before filing Form I-485.\n\n# Fees\n\nThe filing fee for Form I-130 is $675.",
		SourceURL: "https://example.gov/family",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stored)

	results, err := a.Service.SemanticSearchEnhanced(ctx, "Form I-130 filing fee", 5, map[string]any{
		"form_numbers": []any{"I-130"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	path, err := a.Service.ValidateUserPath(ctx, []string{"I-485"}, "")
	require.NoError(t, err)
	assert.False(t, path.Valid)
	assert.Equal(t, "I-130", path.MissingPrerequisites[0].Requires)

	st, err := a.Service.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Backend)
	assert.Equal(t, "feature-hash", st.EmbeddingModel)
	assert.EqualValues(t, 2, st.Records)
}

func TestNew_CustomEstimates(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, localConfig())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Service.Ingest(ctx, rag.DocumentInput{
		Title:   "Petition",
		Content: "Form I-130 is filed by the sponsor.",
	})
	require.NoError(t, err)

	path, err := a.Service.ValidateUserPath(ctx, []string{"I-130"}, "")
	require.NoError(t, err)
	assert.Equal(t, "20-40 days", path.TimelineEstimate["I-130"].Description)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := localConfig()
	cfg.VectorStore.Backend = "qdrant"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_RejectsNegativeFlowDepth(t *testing.T) {
	cfg := localConfig()
	cfg.Retrieval.FlowDepth = -1
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, query.ErrInvalidArgument)
}
