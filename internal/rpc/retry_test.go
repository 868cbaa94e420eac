package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func TestCalculateBackoff(t *testing.T) {
	initial := 250 * time.Millisecond

	tests := []struct {
		name        string
		attempt     int
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{name: "attempt 0 has no backoff", attempt: 0, minExpected: 0, maxExpected: 0},
		{name: "first retry", attempt: 1, minExpected: 187500 * time.Microsecond, maxExpected: 312500 * time.Microsecond},
		{name: "second retry", attempt: 2, minExpected: 375 * time.Millisecond, maxExpected: 625 * time.Millisecond},
		{name: "fourth retry", attempt: 4, minExpected: 1500 * time.Millisecond, maxExpected: 2500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 20 {
				backoff := calculateBackoff(tt.attempt, initial)
				assert.GreaterOrEqual(t, backoff, tt.minExpected, "backoff should be >= min")
				assert.LessOrEqual(t, backoff, tt.maxExpected, "backoff should be <= max")
			}
		})
	}
}

func TestRetryRateLimited_Success(t *testing.T) {
	rec := &sleepRecorder{}
	callCount := 0

	err := retryRateLimited(context.Background(), DefaultRetryConfig(), "test", "eth_blockNumber", rec.sleep,
		func() error {
			callCount++
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 1, callCount, "should succeed on first attempt")
	assert.Empty(t, rec.calls)
}

func TestRetryRateLimited_SuccessAfterRetries(t *testing.T) {
	rec := &sleepRecorder{}
	callCount := 0

	err := retryRateLimited(context.Background(), DefaultRetryConfig(), "test", "eth_getLogs", rec.sleep,
		func() error {
			callCount++
			if callCount < 3 {
				return errors.New("429 Too Many Requests")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, callCount, "should succeed on third attempt")
	require.Len(t, rec.calls, 2)
	assert.Less(t, rec.calls[0], rec.calls[1]+rec.calls[1]/2)
}

func TestRetryRateLimited_NonRateLimitError(t *testing.T) {
	rec := &sleepRecorder{}
	callCount := 0
	expectedErr := errors.New("execution reverted")

	err := retryRateLimited(context.Background(), DefaultRetryConfig(), "test", "eth_call", rec.sleep,
		func() error {
			callCount++
			return expectedErr
		})

	require.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, callCount, "should not retry other errors")
	assert.Empty(t, rec.calls)
}

func TestRetryRateLimited_Exhausted(t *testing.T) {
	rec := &sleepRecorder{}
	callCount := 0
	expectedErr := errors.New("rate limit exceeded")

	cfg := DefaultRetryConfig()
	cfg.MaxRateLimitRetries = 3

	err := retryRateLimited(context.Background(), cfg, "test", "eth_getLogs", rec.sleep,
		func() error {
			callCount++
			return expectedErr
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited after 3 retries")
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 4, callCount, "initial attempt plus three retries")
	assert.Len(t, rec.calls, 3)
}

func TestRetryRateLimited_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0

	err := retryRateLimited(ctx, DefaultRetryConfig(), "test", "eth_getLogs",
		func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
		func() error {
			callCount++
			return errors.New("429")
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount, "should stop retrying after context cancelled")
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
