package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
	Redis  redis.UniversalClient `optional:"true"`
}

// New selects the limiter backend from configuration.
func New(p Params) (Limiter, error) {
	policies, err := Policies(p.Config)
	if err != nil {
		return nil, err
	}
	if p.Config.Limits.Backend == config.BackendRedis && p.Redis != nil {
		p.Log.Info("rate limiter using redis backend")
		return NewRedisLimiter(p.Redis, policies, p.Clock.Now), nil
	}
	p.Log.Info("rate limiter using in-memory backend")
	return NewMemoryLimiter(policies, p.Clock.Now), nil
}
