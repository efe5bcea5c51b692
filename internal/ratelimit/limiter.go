// Package ratelimit enforces per-key sliding-window request limits for the
// login and token endpoints.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/railgate/internal/config"
)

type Bucket string

const (
	BucketLogin Bucket = "login"
	BucketToken Bucket = "token"
)

// UnknownKey is the shared bucket used when the caller address cannot be
// determined.
const UnknownKey = "unknown"

// Policy allows Limit requests per sliding Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Check(ctx context.Context, bucket Bucket, key string) (Decision, error)
}

var (
	ErrUnknownBucket = errors.New("rate limit bucket not configured")
	ErrEmptyKey      = errors.New("rate limiter key is empty")
)

// Policies builds the per-bucket policy table from configuration.
func Policies(cfg config.Config) (map[Bucket]Policy, error) {
	policies := map[Bucket]Policy{
		BucketLogin: {Limit: cfg.Limits.LoginLimit, Window: cfg.Limits.LoginWindow},
		BucketToken: {Limit: cfg.Limits.TokenLimit, Window: cfg.Limits.TokenWindow},
	}
	for bucket, p := range policies {
		if p.Limit <= 0 || p.Window <= 0 {
			return nil, fmt.Errorf("rate limit %s must be positive", bucket)
		}
	}
	return policies, nil
}

func retryAfter(oldest, now time.Time, window time.Duration) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
