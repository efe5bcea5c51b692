package server

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/ratelimit"
	"go.uber.org/zap"
)

// ClientIPResolver derives the caller address used for rate limiting and
// audit records. The first hop of the trusted proxy header wins; without
// one the TCP peer is used.
type ClientIPResolver struct {
	header string
	log    *zap.Logger
}

func NewClientIPResolver(cfg config.Config, log *zap.Logger) *ClientIPResolver {
	return &ClientIPResolver{
		header: strings.TrimSpace(cfg.TrustedProxyHeader),
		log:    log.Named("http.clientip"),
	}
}

func (r *ClientIPResolver) Resolve(c *gin.Context) string {
	if r.header != "" {
		if raw := c.GetHeader(r.header); raw != "" {
			first, _, _ := strings.Cut(raw, ",")
			if addr, ok := parseAddr(first); ok {
				return addr
			}
		}
	}

	if addr, ok := parseAddr(c.Request.RemoteAddr); ok {
		return addr
	}

	r.log.Warn("client address unavailable, using shared bucket",
		zap.String("remote_addr", c.Request.RemoteAddr),
	)
	return ratelimit.UnknownKey
}

func parseAddr(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(strings.Trim(raw, "[]"))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
