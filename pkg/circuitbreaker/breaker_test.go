package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("embedding", Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_CancellationDoesNotCount(t *testing.T) {
	cb := NewCircuitBreaker("graph", Config{FailureThreshold: 1})

	_ = cb.Execute(context.Background(), func() error { return context.Canceled })
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("graph", Config{FailureThreshold: 1, Timeout: time.Second})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}
