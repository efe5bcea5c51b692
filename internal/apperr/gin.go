package apperr

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/observability/logger"
	"go.uber.org/zap"
)

// Abort renders err as an OAuth error body and stops the handler chain.
// The error is also attached to the context for the request logger.
func Abort(c *gin.Context, err error) {
	if err == nil {
		return
	}
	e := As(err)
	_ = c.Error(e)

	if e.Kind == KindInternal {
		logger.FromContext(c.Request.Context()).Error("request failed",
			zap.String("reason", e.Reason),
			zap.Error(e.Err),
		)
	}

	status := HTTPStatus(e)
	switch {
	case status == http.StatusUnauthorized && e.Code == CodeInvalidClient:
		c.Header("WWW-Authenticate", `Basic realm="railgate"`)
	case status == http.StatusUnauthorized && e.Code == CodeInvalidToken:
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	case e.Kind == KindRateLimit && e.RetryAfter > 0:
		c.Header("Retry-After", RetryAfterSeconds(e))
	}
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, Public(e))
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func RetryAfterSeconds(e *Error) string {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// Classify reports the kind and wire code of err for request logging.
func Classify(err error) (string, string) {
	e := As(err)
	return e.Kind.String(), e.Code
}
