package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicies() map[Bucket]Policy {
	return map[Bucket]Policy{
		BucketLogin: {Limit: 5, Window: 5 * time.Minute},
		BucketToken: {Limit: 20, Window: time.Minute},
	}
}

func TestMemoryLimiterLoginBoundary(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(testPolicies(), clk.Now)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Check(ctx, BucketLogin, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d should pass", i)
		assert.Equal(t, 5-i, d.Remaining)
		clk.Advance(10 * time.Second)
	}

	d, err := l.Check(ctx, BucketLogin, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	// oldest request was 50s ago
	assert.Equal(t, 5*time.Minute-50*time.Second, d.RetryAfter)
}

func TestMemoryLimiterSlidesWindow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(testPolicies(), clk.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Check(ctx, BucketLogin, "ip")
	}
	d, _ := l.Check(ctx, BucketLogin, "ip")
	require.False(t, d.Allowed)

	clk.Advance(5*time.Minute - time.Second)
	d, _ = l.Check(ctx, BucketLogin, "ip")
	assert.False(t, d.Allowed)

	clk.Advance(time.Second)
	d, _ = l.Check(ctx, BucketLogin, "ip")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterKeysAndBucketsAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(testPolicies(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Check(ctx, BucketLogin, "a")
	}
	d, _ := l.Check(ctx, BucketLogin, "a")
	assert.False(t, d.Allowed)

	d, _ = l.Check(ctx, BucketLogin, "b")
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, BucketToken, "a")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterRejectsBadInput(t *testing.T) {
	l := NewMemoryLimiter(testPolicies(), nil)
	_, err := l.Check(context.Background(), Bucket("nope"), "a")
	assert.ErrorIs(t, err, ErrUnknownBucket)
	_, err = l.Check(context.Background(), BucketLogin, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemoryLimiterConcurrentExactness(t *testing.T) {
	l := NewMemoryLimiter(testPolicies(), nil)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, BucketToken, "198.51.100.1")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), allowed.Load())
}

func TestMemoryLimiterSweepsIdleKeys(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(testPolicies(), clk.Now)
	ctx := context.Background()

	l.sweepEvery = 1
	l.sweepThreshold = 0

	for i := 0; i < 500; i++ {
		_, _ = l.Check(ctx, BucketToken, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	before := l.Keys()
	require.Equal(t, 500, before)

	clk.Advance(10 * time.Minute)
	for i := 0; i < 200; i++ {
		_, _ = l.Check(ctx, BucketToken, fmt.Sprintf("fresh-%d", i))
	}
	assert.Less(t, l.Keys(), before)
}
