package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // linear backoff: attempt * Delay
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	Delay:       500 * time.Millisecond,
	Backoff:     true,
}

// WithRetry runs fn until it succeeds, attempts run out, ctx ends, or fn
// returns a FetchError that is not temporary.
func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	attempts := max(config.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && !fetchErr.Temporary() {
			return err
		}

		if attempt == attempts {
			break
		}

		delay := config.Delay
		if config.Backoff {
			delay = time.Duration(attempt) * config.Delay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
