package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/pkg/logger"
)

const (
	queryPrefix     = "query:"
	embeddingPrefix = "embedding:"
	scanBatch       = 500
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetQuery caches a JSON-encodable query response under key.
func (c *Client) SetQuery(ctx context.Context, key string, response any, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := c.client.Set(ctx, queryPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set query cache: %w", err)
	}

	logger.Debug("Query cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// GetQuery decodes a cached response into response and reports whether one
// was found.
func (c *Client) GetQuery(ctx context.Context, key string, response any) (bool, error) {
	data, err := c.client.Get(ctx, queryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get query cache: %w", err)
	}

	if err := json.Unmarshal(data, response); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	logger.Debug("Query cache hit", zap.String("key", key))
	return true, nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, embeddingPrefix+textHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingPrefix+textHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return embedding, true, nil
}

// InvalidateQueries drops every cached query response. Embeddings stay,
// since they depend only on the text.
func (c *Client) InvalidateQueries(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, queryPrefix+"*", scanBatch).Iterator()
	var keys []string
	deleted := 0

	flush := func() {
		if len(keys) == 0 {
			return
		}
		if err := c.client.Unlink(ctx, keys...).Err(); err != nil {
			logger.Warn("Failed to delete cache keys", zap.Int("count", len(keys)), zap.Error(err))
		} else {
			deleted += len(keys)
		}
		keys = keys[:0]
	}

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= scanBatch {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Query cache invalidated", zap.Int("keys", deleted))
	return nil
}
