package token

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railgate/internal/cache"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RevocationList remembers revoked access token ids until the token would
// have expired anyway.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

const sweepEvery = 1024

type memoryRevocations struct {
	entries cache.Cache[string, struct{}]
	writes  atomic.Uint64
}

func NewMemoryRevocationList(now func() time.Time) RevocationList {
	return &memoryRevocations{entries: cache.NewTTLCache[string, struct{}](cache.WithNow(now))}
}

func (m *memoryRevocations) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	m.entries.Set(jti, struct{}{}, ttl)
	if m.writes.Add(1)%sweepEvery == 0 {
		m.entries.Sweep()
	}
	return nil
}

func (m *memoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := m.entries.Get(jti)
	return ok, nil
}

type redisRevocations struct {
	client redis.UniversalClient
}

func NewRedisRevocationList(client redis.UniversalClient) RevocationList {
	return &redisRevocations{client: client}
}

func revocationKey(jti string) string {
	return fmt.Sprintf("oauth:revoked:%s", jti)
}

func (r *redisRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revocationKey(jti), "1", ttl).Err()
}

func (r *redisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type RevocationParams struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
	Redis  redis.UniversalClient `optional:"true"`
}

// NewRevocationList follows the rate limiter backend so a multi-instance
// deployment shares both.
func NewRevocationList(p RevocationParams) RevocationList {
	if p.Config.Limits.Backend == config.BackendRedis && p.Redis != nil {
		return NewRedisRevocationList(p.Redis)
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if p.Config.Limits.Backend == config.BackendRedis {
		p.Log.Warn("redis backend selected without a client; using in-memory revocation list")
	}
	return NewMemoryRevocationList(clk.Now)
}
