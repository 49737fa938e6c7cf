package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/pkg/circuitbreaker"
	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/retry"
)

const defaultRateLimitBackoff = 2 * time.Second

type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Dimensions    int
	Timeout       time.Duration
	MaxInputChars int
}

type OpenAI struct {
	client        *openai.Client
	model         string
	dimensions    int
	timeout       time.Duration
	maxInputChars int
	cb            *circuitbreaker.CircuitBreaker
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.LargeEmbedding3)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 8000
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
		},
		Logger: logger.GetLogger(),
	})

	logger.Info("Embedding client initialized",
		zap.String("model", cfg.Model),
		zap.Int("dimensions", cfg.Dimensions),
	)

	return &OpenAI{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         cfg.Model,
		dimensions:    cfg.Dimensions,
		timeout:       cfg.Timeout,
		maxInputChars: cfg.MaxInputChars,
		cb:            cb,
	}
}

func (o *OpenAI) Model() string {
	return o.model
}

func (o *OpenAI) Dimensions() int {
	return o.dimensions
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, retry.Permanent(ErrEmptyInput)
	}
	text = truncate(text, o.maxInputChars)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var embedding []float32
	err := o.cb.Execute(ctx, func() error {
		resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      []string{text},
			Model:      openai.EmbeddingModel(o.model),
			Dimensions: o.dimensions,
		})
		if err != nil {
			metrics.EmbeddingRequests.WithLabelValues("error").Inc()
			return classify(err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			metrics.EmbeddingRequests.WithLabelValues("empty").Inc()
			return ErrEmptyVector
		}
		metrics.EmbeddingRequests.WithLabelValues("ok").Inc()

		embedding = resp.Data[0].Embedding
		logger.Debug("Embedding generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("dimensions", len(embedding)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if o.dimensions > 0 && len(embedding) != o.dimensions {
		return nil, retry.Permanent(fmt.Errorf("embedding has %d dimensions, expected %d", len(embedding), o.dimensions))
	}
	return embedding, nil
}

// classify marks quota errors for the throttle and client errors as not
// worth retrying.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	wrapped := fmt.Errorf("failed to generate embedding: %w", err)
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: defaultRateLimitBackoff, Err: wrapped}
	case status >= 400 && status < 500 && status != http.StatusRequestTimeout:
		return retry.Permanent(wrapped)
	}
	return wrapped
}
