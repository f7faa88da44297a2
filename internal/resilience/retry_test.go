package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 3}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, Backoff: BackoffConfig{Strategy: StrategyConstant, BaseDelay: time.Millisecond}}
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, Backoff: BackoffConfig{Strategy: StrategyConstant, BaseDelay: time.Millisecond}}
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryNonRetryableErrorStopsImmediately(t *testing.T) {
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:         5,
		RetryableSubstrings: []string{"rate limited"},
		Backoff:             BackoffConfig{Strategy: StrategyConstant, BaseDelay: time.Millisecond},
	}
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("invalid argument")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryOpenCircuitWrapsServiceUnavailable(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3}
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		return ErrCircuitOpen
	})
	var svcErr *ServiceUnavailableError
	assert.ErrorAs(t, err, &svcErr)
}

func TestWithRetryCanceledContextStopsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, Backoff: BackoffConfig{Strategy: StrategyConstant, BaseDelay: 50 * time.Millisecond}}

	calls := 0
	err := WithRetry(ctx, cfg, func(context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("still failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
