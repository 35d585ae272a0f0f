// Package ratelimit shares one extraction-provider budget across every worker
// process through a fixed-window counter in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey is the Redis key prefix of the provider window counters
const DefaultKey = "einvoice:ratelimit:provider"

// Limiter admits at most Limit calls per Window across all processes
type Limiter struct {
	client redis.UniversalClient
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// Option configures the limiter
type Option func(*Limiter)

// WithKey overrides the Redis key prefix
func WithKey(key string) Option {
	return func(l *Limiter) {
		if key != "" {
			l.key = key
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithSleep overrides how Wait blocks between windows
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.sleep = sleep
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a limiter admitting limit calls per window
func New(client redis.UniversalClient, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		key:    DefaultKey,
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  Sleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PerMinute is New with a one-minute window
func PerMinute(client redis.UniversalClient, limit int, opts ...Option) *Limiter {
	return New(client, limit, time.Minute, opts...)
}

// Allow takes one slot of the current window. When the window is exhausted
// it returns false and the time until the next window opens.
func (l *Limiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	key := fmt.Sprintf("%s:%d", l.key, slot)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*l.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: %w", err)
	}

	if incr.Val() <= int64(l.limit) {
		return true, 0, nil
	}
	next := time.Unix(0, (slot+1)*int64(l.window))
	return false, next.Sub(now), nil
}

// Wait blocks until a slot is available or ctx is done. A non-positive
// limit disables limiting.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	for {
		ok, wait, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		l.logger.Debug("provider rate limit reached", zap.Duration("wait", wait))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
