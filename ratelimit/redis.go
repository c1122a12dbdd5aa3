// Package ratelimit budgets repeated account requests in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults used when the limiter is built with zero values
const (
	DefaultBudget = 5
	DefaultWindow = 15 * time.Minute
	DefaultPrefix = "credentials:rl"
)

var errRedisUnavailable = errors.New("rate limit redis unavailable")

// FixedWindow counts attempts per key in a fixed window. The first attempt
// of a window sets the key expiry, attempts beyond Budget are denied until
// the key expires.
type FixedWindow struct {
	redis  redis.Cmdable
	budget int64
	window time.Duration
	prefix string
}

// Option configures a FixedWindow
type Option func(*FixedWindow)

// WithBudget sets the number of attempts allowed per window
func WithBudget(budget int) Option {
	return func(l *FixedWindow) {
		if budget > 0 {
			l.budget = int64(budget)
		}
	}
}

// WithWindow sets the window length
func WithWindow(window time.Duration) Option {
	return func(l *FixedWindow) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithPrefix namespaces the Redis keys
func WithPrefix(prefix string) Option {
	return func(l *FixedWindow) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// NewFixedWindow returns a limiter backed by client
func NewFixedWindow(client redis.Cmdable, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		redis:  client,
		budget: DefaultBudget,
		window: DefaultWindow,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Allow records an attempt for key and reports whether it fits the budget.
func (l *FixedWindow) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.key(key)

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
	}

	if count <= l.budget {
		return true, 0, nil
	}

	ttl, err := l.redis.TTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	if ttl < 0 {
		// key lost its expiry, put it back so the window can close
		if err := l.redis.Expire(ctx, k, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
		ttl = l.window
	}
	return false, ttl, nil
}

// Reset forgets every attempt recorded for key
func (l *FixedWindow) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return nil
}

func (l *FixedWindow) key(key string) string {
	return l.prefix + ":" + key
}
