package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/railgate/internal/auditcontext"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
	// ClientIP resolves the caller address; gin's ClientIP when nil.
	ClientIP func(c *gin.Context) string
}

// GinMiddleware seeds the request context with the correlation values the
// audit trail reads, then writes one access line per request. The query
// string is never logged since authorize requests carry state and
// challenges in it.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	clientIP := cfg.ClientIP
	if clientIP == nil {
		clientIP = (*gin.Context).ClientIP
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)
		c.Header(requestIDHeader, requestID)

		ctx := auditcontext.WithRequestID(c.Request.Context(), requestID)
		ctx = auditcontext.WithIPAddress(ctx, clientIP(c))
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		for _, key := range []string{"client_id", "grant_type"} {
			if v := c.GetString(key); v != "" {
				fields = append(fields, zap.String(key, v))
			}
		}
		if cfg.Debug {
			fields = append(fields,
				zap.String("path", c.Request.URL.Path),
				zap.String("user_agent", c.Request.UserAgent()),
			)
		}
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			kind, code := cfg.ErrorClassifier(last.Err)
			fields = append(fields, zap.String("error_type", kind), zap.String("error_code", code))
		}

		FromContext(c.Request.Context()).Check(accessLevel(route, status), "http_request").Write(fields...)
	}
}

func requestIDFor(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	return id
}

// accessLevel keeps probes quiet and raises failed grants and throttled
// callers above routine traffic.
func accessLevel(route string, status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status == http.StatusTooManyRequests, status == http.StatusUnauthorized && route == "/oauth/token":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
