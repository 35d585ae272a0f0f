package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

func setup(t *testing.T) (*redis.Client, *fakeClock) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, &fakeClock{now: time.Date(2024, time.March, 1, 10, 0, 15, 0, time.UTC)}
}

func TestLimiter_Allow(t *testing.T) {
	client, clock := setup(t)
	limiter := ratelimit.PerMinute(client, 2, ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, wait, err := limiter.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 45*time.Second, wait)

	_ = clock.Sleep(ctx, wait)
	ok, _, err = limiter.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "next window opens a fresh budget")
}

func TestLimiter_SharedAcrossInstances(t *testing.T) {
	client, clock := setup(t)
	a := ratelimit.PerMinute(client, 3, ratelimit.WithClock(clock.Now))
	b := ratelimit.PerMinute(client, 3, ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 4; i++ {
		for _, l := range []*ratelimit.Limiter{a, b} {
			ok, _, err := l.Allow(ctx)
			require.NoError(t, err)
			if ok {
				admitted++
			}
		}
	}
	assert.Equal(t, 3, admitted)
}

func TestLimiter_WaitSleepsUntilNextWindow(t *testing.T) {
	client, clock := setup(t)
	limiter := ratelimit.PerMinute(client, 1,
		ratelimit.WithClock(clock.Now),
		ratelimit.WithSleep(clock.Sleep),
		ratelimit.WithKey("test:provider"),
	)
	ctx := context.Background()

	start := clock.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	assert.Equal(t, 45*time.Second, clock.Now().Sub(start))
}

func TestLimiter_Disabled(t *testing.T) {
	var nilLimiter *ratelimit.Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background()))

	client, _ := setup(t)
	assert.NoError(t, ratelimit.PerMinute(client, 0).Wait(context.Background()))
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ratelimit.Sleep(ctx, time.Hour), context.Canceled)
}
