// Package throttle provides the process-wide budget for calls to a metered
// external service: a token bucket for the request rate plus a ceiling on
// in-flight calls.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerMinute int
	Burst             int
	MaxConcurrent     int
}

type Limiter struct {
	limiter *rate.Limiter
	slots   chan struct{}

	mu      sync.Mutex
	retryAt time.Time
}

func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 1000
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	perSecond := float64(cfg.RequestsPerMinute) / 60.0
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.Burst),
		slots:   make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Acquire blocks until a token and a concurrency slot are both available.
// The returned release func must be called once the call has finished.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.waitBackoff(ctx); err != nil {
		return nil, err
	}

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.limiter.Wait(ctx); err != nil {
		<-l.slots
		return nil, fmt.Errorf("throttle wait: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-l.slots })
	}, nil
}

// Backoff pauses every caller until d has elapsed, for upstream 429s.
func (l *Limiter) Backoff(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(l.retryAt) {
		l.retryAt = until
	}
}

func (l *Limiter) InFlight() int {
	return len(l.slots)
}

func (l *Limiter) waitBackoff(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	wait := time.Until(retryAt)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
