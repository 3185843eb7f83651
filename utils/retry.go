package utils

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy holds the parameters for the retry strategy.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// IsRetryable reports whether err is worth another attempt. Nil treats
	// every error as retryable.
	IsRetryable func(err error) bool
	Logger      Logger
}

// Do executes fn, retrying failures with exponential back-off plus jitter.
// The error of the last attempt is returned as-is.
func (p RetryPolicy) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.Backoff(attempt)
		if p.Logger != nil {
			p.Logger.Warn("retrying after failure",
				zap.String("operation", operationName),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", p.MaxRetries+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// Backoff returns the wait before retry number attempt (0-based):
// min(base*2^attempt + jitter, maxDelay), jitter drawn from [0, base).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		// stop doubling well before time.Duration overflows
		if delay > math.MaxInt64/4 {
			break
		}
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	delay += time.Duration(rand.Int63n(int64(p.BaseDelay)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
