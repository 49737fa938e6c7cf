// Package embedding turns text into fixed-size vectors. Providers can be
// wrapped with a shared throttle and a cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyInput  = errors.New("embedding input is empty")
	ErrEmptyVector = errors.New("embedding provider returned an empty vector")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// RateLimitError reports that the provider rejected a call for exceeding
// its quota.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("embedding rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}
