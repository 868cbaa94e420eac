package rpc

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the per-endpoint rate-limit retry layer.
type RetryConfig struct {
	// MaxRateLimitRetries is how many times a throttled call is re-issued on the same endpoint.
	MaxRateLimitRetries int
	// InitialBackoff is the wait before the first retry; it doubles on each subsequent one.
	InitialBackoff time.Duration
	// ComputeUnitsPerSecond is the request budget per endpoint. Zero disables the limiter.
	ComputeUnitsPerSecond int
}

// DefaultRetryConfig mirrors the environment defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRateLimitRetries:   8,
		InitialBackoff:        250 * time.Millisecond,
		ComputeUnitsPerSecond: 500,
	}
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateBackoff computes the wait before retry number attempt (1-based), with ±25% jitter.
func calculateBackoff(attempt int, initial time.Duration) time.Duration {
	if attempt < 1 || initial <= 0 {
		return 0
	}

	backoff := float64(initial) * math.Pow(2, float64(attempt-1))

	jitterRange := backoff * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// retryRateLimited executes fn, re-issuing it while the endpoint answers with a
// throttling error and retries remain. Other errors are returned immediately.
func retryRateLimited(
	ctx context.Context,
	cfg RetryConfig,
	endpoint, method string,
	sleep sleepFunc,
	fn func() error,
) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRateLimitRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRateLimitError(err) || ctx.Err() != nil {
			return err
		}

		if attempt == cfg.MaxRateLimitRetries {
			break
		}

		RPCRateLimitedInc(endpoint, method)
		if err := sleep(ctx, calculateBackoff(attempt+1, cfg.InitialBackoff)); err != nil {
			return err
		}
	}

	return fmt.Errorf("rate limited after %d retries: %w", cfg.MaxRateLimitRetries, lastErr)
}
