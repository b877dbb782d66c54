package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const DefaultRetryAttempts = 3

// Retry runs fn up to attempts times, waiting 2^attempt backoff units
// between tries. Only transient failures are retried; anything else is
// returned immediately.
func Retry(ctx context.Context, logger *zap.Logger, attempts int, backoffUnit time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < attempts {
			backoff := time.Duration(1<<attempt) * backoffUnit
			logger.Warn("Provider call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
