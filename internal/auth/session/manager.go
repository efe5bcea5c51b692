package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
)

const DefaultCookieName = "_rg_sid"

// Authenticator resolves a raw session token.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*authdomain.SessionContext, error)
}

// Manager manages auth session cookies.
type Manager struct {
	cookieName string
	secure     bool
	clock      clock.Clock
}

func NewManager(cfg config.Config, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Manager{
		cookieName: DefaultCookieName,
		secure:     cfg.AuthCookieSecure,
		clock:      clk,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

func (m *Manager) Set(c *gin.Context, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(m.clock.Now()).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, value, maxAge, "/", "", m.secure, true)
}

func (m *Manager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, "", -1, "/", "", m.secure, true)
}

// Current returns the session behind the request cookie, reissuing the
// cookie when the expiry slid forward. A missing or dead session yields
// (nil, nil); only store failures are returned as errors.
func (m *Manager) Current(c *gin.Context, auth Authenticator) (*authdomain.SessionContext, error) {
	raw, ok := m.ReadToken(c)
	if !ok {
		return nil, nil
	}
	sess, err := auth.Authenticate(c.Request.Context(), raw)
	if err != nil {
		if isSessionRejected(err) {
			m.Clear(c)
			return nil, nil
		}
		return nil, err
	}
	if sess.Renewed {
		m.Set(c, raw, sess.ExpiresAt)
	}
	return sess, nil
}

func isSessionRejected(err error) bool {
	return errors.Is(err, authdomain.ErrInvalidSession) ||
		errors.Is(err, authdomain.ErrSessionExpired) ||
		errors.Is(err, authdomain.ErrSessionRevoked) ||
		errors.Is(err, authdomain.ErrUserInactive)
}
