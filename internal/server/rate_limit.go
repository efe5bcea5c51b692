package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	"github.com/smallbiznis/railgate/internal/auditcontext"
	"github.com/smallbiznis/railgate/internal/observability/logger"
	"github.com/smallbiznis/railgate/internal/ratelimit"
	"go.uber.org/zap"
)

// rateLimit guards a route with the per-address sliding window of bucket.
// A limiter failure rejects the request.
func (s *Server) rateLimit(bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := strings.TrimSpace(auditcontext.IPAddressFromContext(ctx))
		if key == "" {
			key = ratelimit.UnknownKey
		}

		decision, err := s.limiter.Check(ctx, bucket, key)
		if err != nil {
			apperr.Abort(c, apperr.Internal(err, "rate limit check"))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			s.denyRateLimit(c, bucket, decision)
			return
		}
		c.Next()
	}
}

func (s *Server) denyRateLimit(c *gin.Context, bucket ratelimit.Bucket, decision ratelimit.Decision) {
	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)

	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("bucket", string(bucket)),
		zap.String("endpoint", endpoint),
		zap.Duration("retry_after", decision.RetryAfter),
	)
	s.metrics.RecordRateLimitDenied(ctx, endpoint)
	s.record(c, auditdomain.Event{
		Action:       auditdomain.ActionRateLimitDenied,
		ResourceType: "endpoint",
		ResourceID:   endpoint,
		Outcome:      auditdomain.OutcomeDenied,
		Reason:       "limit_exceeded",
		Metadata:     map[string]any{"bucket": string(bucket)},
	})

	apperr.Abort(c, apperr.RateLimited(decision.RetryAfter))
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
