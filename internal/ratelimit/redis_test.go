package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiterLoginBoundary(t *testing.T) {
	_, client := newTestRedis(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewRedisLimiter(client, testPolicies(), clk.Now)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Check(ctx, BucketLogin, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d should pass", i)
		assert.Equal(t, 5-i, d.Remaining)
		clk.Advance(time.Second)
	}

	d, err := l.Check(ctx, BucketLogin, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 5*time.Minute-5*time.Second, d.RetryAfter)

	clk.Advance(5*time.Minute - 4*time.Second)
	d, err = l.Check(ctx, BucketLogin, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiterSeparatesKeys(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, testPolicies(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, BucketLogin, "a")
		require.NoError(t, err)
	}
	d, _ := l.Check(ctx, BucketLogin, "a")
	assert.False(t, d.Allowed)
	d, _ = l.Check(ctx, BucketLogin, "b")
	assert.True(t, d.Allowed)

	assert.True(t, mr.Exists("ratelimit:login:a"))
}

func TestRedisLimiterFailsClosed(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, testPolicies(), nil)
	mr.Close()

	d, err := l.Check(context.Background(), BucketToken, "a")
	assert.Error(t, err)
	assert.False(t, d.Allowed)
}
