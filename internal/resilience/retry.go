package resilience

import (
	"context"
	"log"
	"time"
)

// Retry runs fn up to attempts times with exponential backoff, retrying only
// transient failures. Permanent errors and context cancellation short-circuit
// immediately. Returns the last error together with the attempt count used.
func Retry(ctx context.Context, op string, attempts int, baseDelay time.Duration, fn func(ctx context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}

		if !IsTransient(err) || attempt == attempts {
			return attempt, err
		}

		log.Printf("🔁 [RETRY] %s attempt %d/%d failed: %v (next in %s)", op, attempt, attempts, err, delay)

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return attempts, err
}
