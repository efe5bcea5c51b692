package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const keySlidingWindow = "ratelimit:%s:%s"

// The caller supplies the clock so every replica (and miniredis in tests)
// agrees on one time source.
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[5])
local count = redis.call("ZCARD", KEYS[1])

if count < limit then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {1, limit - count - 1, 0}
end

local retry = window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] ~= nil then
  retry = tonumber(oldest[2]) + window - now
end

-- Return: allowed, remaining, retry_after (milliseconds)
return {0, 0, retry}
`

// RedisLimiter shares sliding windows across replicas through a sorted set
// per key.
type RedisLimiter struct {
	client   redis.UniversalClient
	script   *redis.Script
	policies map[Bucket]Policy
	now      func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, policies map[Bucket]Policy, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{
		client:   client,
		script:   redis.NewScript(slidingWindowScript),
		policies: policies,
		now:      now,
	}
}

// Check fails closed: a redis error is returned to the caller and never
// treated as an allow.
func (l *RedisLimiter) Check(ctx context.Context, bucket Bucket, key string) (Decision, error) {
	if l == nil || l.client == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	policy, ok := l.policies[bucket]
	if !ok {
		return Decision{}, ErrUnknownBucket
	}
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	now := l.now().UnixMilli()
	windowMs := policy.Window.Milliseconds()
	res, err := l.script.Run(
		ctx,
		l.client,
		[]string{fmt.Sprintf(keySlidingWindow, bucket, key)},
		now,
		windowMs,
		policy.Limit,
		uuid.NewString(),
		now-windowMs,
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 3 {
		return Decision{}, errors.New("invalid rate limit script response")
	}

	decision := Decision{
		Allowed:   castToInt(res[0]) == 1,
		Limit:     policy.Limit,
		Remaining: int(castToInt(res[1])),
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(castToInt(res[2])) * time.Millisecond
		if decision.RetryAfter < time.Millisecond {
			decision.RetryAfter = time.Millisecond
		}
	}
	return decision, nil
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
