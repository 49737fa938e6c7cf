package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/throttle"
)

// Throttled spends the shared request budget before every call and pauses
// all callers when the provider reports a rate limit.
type Throttled struct {
	next    Embedder
	limiter *throttle.Limiter
}

func NewThrottled(next Embedder, limiter *throttle.Limiter) *Throttled {
	return &Throttled{next: next, limiter: limiter}
}

func (t *Throttled) Model() string {
	return t.next.Model()
}

func (t *Throttled) Dimensions() int {
	return t.next.Dimensions()
}

func (t *Throttled) Embed(ctx context.Context, text string) ([]float32, error) {
	release, err := t.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	embedding, err := t.next.Embed(ctx, text)
	if rl, ok := IsRateLimited(err); ok {
		logger.Warn("Embedding provider rate limited, backing off",
			zap.Duration("retry_after", rl.RetryAfter),
		)
		t.limiter.Backoff(rl.RetryAfter)
	}
	return embedding, err
}
