package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fast(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := Do(context.Background(), fast(2), func() error {
		calls++
		return boom
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("bad request")
	calls := 0

	err := Do(context.Background(), fast(5), func() error {
		calls++
		return Permanent(bad)
	})

	assert.Equal(t, bad, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnlyListedErrorsRetry(t *testing.T) {
	transient := errors.New("transient")
	other := errors.New("other")
	cfg := fast(3)
	cfg.RetryableErrors = []error{transient}

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return other
	})
	assert.Equal(t, other, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fast(3), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), fast(3), func() ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("flaky")
		}
		return []float32{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)
}
