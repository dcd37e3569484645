package connkit

import (
	"context"
	"log/slog"
	"time"
)

// retry invokes op up to attempts times, sleeping baseDelay*2^n before
// retry n+1 (pure exponential, no jitter). The last error is returned once
// the budget is exhausted. Sleeps are interruptible through ctx, so a
// cancelled or timed-out context aborts the loop between attempts.
func retry[T any](ctx context.Context, attempts int, baseDelay time.Duration, logger *slog.Logger, op func() (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := baseDelay << (i - 1)
			logger.Warn("retrying after failure",
				slog.Int("attempt", i),
				slog.Int("max_attempts", attempts),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}
