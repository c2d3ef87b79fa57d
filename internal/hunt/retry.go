package hunt

import (
	"context"
	"math/rand"
	"time"

	"threathunt/internal/metrics"
)

const maxBackoff = 30 * time.Second

// retry runs fn up to attempts times while retryable(err) holds, sleeping
// with exponential backoff and full jitter between attempts.
func retry[T any](ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	cur := delay
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			metrics.QueryRetries.Inc()
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if i == attempts-1 || !retryable(err) {
			break
		}
		if cur > maxBackoff {
			cur = maxBackoff
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	return zero, lastErr
}
