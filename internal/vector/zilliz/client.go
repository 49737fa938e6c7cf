package zilliz

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/vector"
	"github.com/immigration-rag/backend/pkg/logger"
)

const (
	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldPayload   = "payload"

	hnswM              = 16
	hnswEfConstruction = 200
	searchEf           = 128
)

// Client stores enriched records in Milvus or Zilliz Cloud. The filterable
// scalars get their own columns and the full record travels as JSON.
type Client struct {
	client client.Client
}

func NewClient(ctx context.Context, endpoint, apiKey string) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized", zap.String("endpoint", endpoint))

	return &Client{client: c}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context, name string, dim int) error {
	has, err := z.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", name))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    "Enriched immigration document chunks",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "chunk_type",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "32"},
			},
			{Name: "chunk_index", DataType: entity.FieldTypeInt64},
			{Name: "is_current", DataType: entity.FieldTypeBool},
			{Name: "freshness_score", DataType: entity.FieldTypeDouble},
			{Name: fieldPayload, DataType: entity.FieldTypeJSON},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstruction)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, name, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", name), zap.Int("dimension", dim))

	return nil
}

func (z *Client) DropCollection(ctx context.Context, name string) error {
	has, err := z.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return nil
	}
	if err := z.client.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	logger.Info("Collection dropped", zap.String("collection", name))
	return nil
}

func (z *Client) Upsert(ctx context.Context, name string, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	dim := len(records[0].Vector)
	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	documentIDs := make([]string, len(records))
	chunkTypes := make([]string, len(records))
	chunkIndexes := make([]int64, len(records))
	current := make([]bool, len(records))
	freshness := make([]float64, len(records))
	payloads := make([][]byte, len(records))

	for i, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %s has %d, batch has %d", vector.ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", r.ID, err)
		}

		ids[i] = r.ID
		embeddings[i] = r.Vector
		documentIDs[i] = r.Payload.DocumentID
		chunkTypes[i] = string(r.Payload.ChunkType)
		chunkIndexes[i] = int64(r.Payload.ChunkIndex)
		current[i] = r.Payload.IsCurrent
		freshness[i] = r.Payload.FreshnessScore
		payloads[i] = payload
	}

	_, err := z.client.Upsert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, dim, embeddings),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("chunk_type", chunkTypes),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnBool("is_current", current),
		entity.NewColumnDouble("freshness_score", freshness),
		entity.NewColumnJSONBytes(fieldPayload, payloads),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}

	if err := z.client.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Records upserted into vector DB", zap.String("collection", name), zap.Int("count", len(records)))

	return nil
}

func (z *Client) Search(ctx context.Context, name string, query []float32, limit int, filter *vector.Filter) ([]vector.Match, error) {
	expr, err := Expr(filter)
	if err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(searchEf, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		name,
		[]string{},
		expr,
		[]string{fieldPayload},
		[]entity.Vector{entity.FloatVector(query)},
		fieldEmbedding,
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]vector.Match, 0, limit)
	for _, sr := range searchResult {
		payloadCol := sr.Fields.GetColumn(fieldPayload)
		if payloadCol == nil {
			return nil, fmt.Errorf("search result is missing the %s field", fieldPayload)
		}
		for i := 0; i < sr.ResultCount; i++ {
			raw, err := payloadCol.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read payload: %w", err)
			}
			data, ok := raw.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected payload type %T", raw)
			}
			var payload models.EnrichedRecord
			if err := json.Unmarshal(data, &payload); err != nil {
				logger.Warn("Skipping record with unreadable payload", zap.Error(err))
				continue
			}
			matches = append(matches, vector.Match{ID: payload.ID, Score: sr.Scores[i], Payload: payload})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("limit", limit),
		zap.Int("results", len(matches)),
		zap.String("filters", expr),
	)

	return matches, nil
}

func (z *Client) Delete(ctx context.Context, name string, ids []string, filter *vector.Filter) error {
	if len(ids) == 0 && filter.Empty() {
		return fmt.Errorf("%w: delete needs ids or a filter", vector.ErrInvalidFilter)
	}

	expr, err := Expr(filter)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		idExpr := fmt.Sprintf("%s in %s", fieldID, stringList(ids))
		if expr != "" {
			expr = idExpr + " && " + expr
		} else {
			expr = idExpr
		}
	}

	if err := z.client.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}

	logger.Debug("Records deleted from vector DB", zap.String("collection", name), zap.String("expr", expr))
	return nil
}

func (z *Client) Count(ctx context.Context, name string) (int64, error) {
	has, err := z.client.HasCollection(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return 0, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	stats, err := z.client.GetCollectionStatistics(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}
	n, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}
