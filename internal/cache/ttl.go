package cache

import (
	"hash/maphash"
	"strings"
	"sync"
	"time"
)

const defaultShards = 32

// Cache is a concurrency-safe key/value store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Purge()
	// Sweep drops expired entries and returns how many were removed.
	Sweep() int
	Len() int
}

type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the number of independently locked shards.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
}

type ttlCache[K comparable, V any] struct {
	seed   maphash.Seed
	shards []*shard[K, V]
	now    func() time.Time
}

// NewTTLCache returns a sharded in-memory cache. Expired entries are dropped
// lazily when read, so there is no janitor goroutine to stop.
func NewTTLCache[K comparable, V any](opts ...Option) Cache[K, V] {
	o := options{shards: defaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &ttlCache[K, V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard[K, V], o.shards),
		now:    o.now,
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{items: make(map[K]entry[V])}
	}
	return c
}

func (c *ttlCache[K, V]) shardFor(key K) *shard[K, V] {
	h := maphash.Comparable(c.seed, key)
	return c.shards[h%uint64(len(c.shards))]
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, still := s.items[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	s.mu.Unlock()
}

func (c *ttlCache[K, V]) Delete(key K) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

func (c *ttlCache[K, V]) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[K]entry[V])
		s.mu.Unlock()
	}
}

func (c *ttlCache[K, V]) Sweep() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len counts stored entries, including ones that have expired but not yet
// been read.
func (c *ttlCache[K, V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Key joins non-empty parts into a normalized cache key.
func Key(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
