package auth

import (
	"context"
	"time"
)

// AttemptLimiter budgets repeated requests per key. Allowed is false once
// the budget is spent, retryAfter tells when the window resets.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// AttemptLimiterFunc adapts a function to the AttemptLimiter interface.
type AttemptLimiterFunc func(ctx context.Context, key string) (bool, time.Duration, error)

// Allow implements AttemptLimiter.
func (f AttemptLimiterFunc) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if f == nil {
		return true, 0, nil
	}
	return f(ctx, key)
}

type noopLimiter struct{}

func (noopLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return true, 0, nil
}

// checkLimit fails open when the limiter itself errors.
func checkLimit(ctx context.Context, limiter AttemptLimiter, logger Logger, key string) error {
	allowed, retryAfter, err := limiter.Allow(ctx, key)
	if err != nil {
		logger.Warn("attempt limiter unavailable", "key", key, "error", err)
		return nil
	}
	if !allowed {
		return newError(ErrTooManyAttempts, map[string]any{
			"retry_after_seconds": int(retryAfter.Seconds()),
		})
	}
	return nil
}
