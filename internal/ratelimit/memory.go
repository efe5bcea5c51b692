package ratelimit

import (
	"context"
	"hash/maphash"
	"sync"
	"time"
)

const (
	memoryShards   = 64
	sweepEvery     = 1024
	sweepThreshold = 4096
)

// window is a ring holding at most limit timestamps in ascending order.
type window struct {
	times []time.Time
	head  int
	size  int
}

func (w *window) prune(cutoff time.Time) {
	for w.size > 0 && !w.times[w.head].After(cutoff) {
		w.head = (w.head + 1) % len(w.times)
		w.size--
	}
}

func (w *window) oldest() time.Time {
	return w.times[w.head]
}

func (w *window) newest() time.Time {
	return w.times[(w.head+w.size-1)%len(w.times)]
}

func (w *window) push(t time.Time) {
	w.times[(w.head+w.size)%len(w.times)] = t
	w.size++
}

type memoryShard struct {
	mu      sync.Mutex
	windows map[string]*window
	ops     int
}

// MemoryLimiter is a single-process sliding-log limiter. State is split
// across independently locked shards; stale keys are pruned lazily on access
// and swept opportunistically once a shard grows large.
type MemoryLimiter struct {
	policies map[Bucket]Policy
	now      func() time.Time
	seed     maphash.Seed
	shards   [memoryShards]*memoryShard

	sweepEvery     int
	sweepThreshold int
}

func NewMemoryLimiter(policies map[Bucket]Policy, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	l := &MemoryLimiter{
		policies:       policies,
		now:            now,
		seed:           maphash.MakeSeed(),
		sweepEvery:     sweepEvery,
		sweepThreshold: sweepThreshold,
	}
	for i := range l.shards {
		l.shards[i] = &memoryShard{windows: make(map[string]*window)}
	}
	return l
}

func (l *MemoryLimiter) Check(_ context.Context, bucket Bucket, key string) (Decision, error) {
	policy, ok := l.policies[bucket]
	if !ok {
		return Decision{}, ErrUnknownBucket
	}
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	id := string(bucket) + ":" + key
	shard := l.shards[maphash.String(l.seed, id)%memoryShards]
	now := l.now()
	cutoff := now.Add(-policy.Window)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.ops++
	if shard.ops%l.sweepEvery == 0 && len(shard.windows) > l.sweepThreshold {
		shard.sweep(now, l.policies)
	}

	w, ok := shard.windows[id]
	if !ok {
		w = &window{times: make([]time.Time, policy.Limit)}
		shard.windows[id] = w
	}
	w.prune(cutoff)

	if w.size >= policy.Limit {
		return Decision{
			Allowed:    false,
			Limit:      policy.Limit,
			Remaining:  0,
			RetryAfter: retryAfter(w.oldest(), now, policy.Window),
		}, nil
	}

	w.push(now)
	return Decision{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit - w.size,
	}, nil
}

// sweep drops windows whose newest entry is older than the longest policy
// window. Caller holds s.mu.
func (s *memoryShard) sweep(now time.Time, policies map[Bucket]Policy) {
	var longest time.Duration
	for _, p := range policies {
		if p.Window > longest {
			longest = p.Window
		}
	}
	cutoff := now.Add(-longest)
	for id, w := range s.windows {
		if w.size == 0 || !w.newest().After(cutoff) {
			delete(s.windows, id)
		}
	}
}

// Keys reports how many keys are tracked. Intended for tests and debugging.
func (l *MemoryLimiter) Keys() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}
