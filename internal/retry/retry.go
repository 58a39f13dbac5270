// Package retry provides transient-failure retries with exponential backoff
// around remote calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls the retry budget for one call site.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable classifies errors. A nil classifier retries nothing.
	Retryable func(error) bool
}

// Default returns the standard budget for remote-API calls.
func Default(retryable func(error) bool) Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   retryable,
	}
}

// Do invokes fn until it succeeds, the error is not retryable, or the attempt
// budget is exhausted. The last error is propagated unchanged so callers keep
// their return contracts.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if cfg.Retryable == nil || !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt)):
		}
	}
	return zero, lastErr
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
