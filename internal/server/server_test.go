package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	authlocal "github.com/smallbiznis/railgate/internal/auth/local"
	authrepo "github.com/smallbiznis/railgate/internal/auth/repository"
	authservice "github.com/smallbiznis/railgate/internal/auth/service"
	"github.com/smallbiznis/railgate/internal/auth/session"
	"github.com/smallbiznis/railgate/internal/authorization"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	obslogger "github.com/smallbiznis/railgate/internal/observability/logger"
	"github.com/smallbiznis/railgate/internal/ratelimit"
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"github.com/smallbiznis/railgate/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(resolver *ClientIPResolver) *gin.Engine {
	r := gin.New()
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: apperr.Classify,
		ClientIP:        resolver.Resolve,
	}))
	r.Use(ErrorHandlingMiddleware())
	return r
}

func TestClientIPUsesFirstHopOfTrustedHeader(t *testing.T) {
	resolver := NewClientIPResolver(config.Config{TrustedProxyHeader: "X-Forwarded-For"}, zap.NewNop())

	cases := []struct {
		name   string
		header string
		remote string
		want   string
	}{
		{name: "first hop", header: "198.51.100.4, 10.0.0.2, 10.0.0.3", remote: "10.0.0.3:5000", want: "198.51.100.4"},
		{name: "hop with port", header: "198.51.100.4:443", remote: "10.0.0.3:5000", want: "198.51.100.4"},
		{name: "ipv6 hop", header: "[2001:db8::1]:443, 10.0.0.2", remote: "10.0.0.3:5000", want: "2001:db8::1"},
		{name: "garbage header falls back to peer", header: "not-an-ip", remote: "192.0.2.9:5000", want: "192.0.2.9"},
		{name: "no header", remote: "192.0.2.9:5000", want: "192.0.2.9"},
		{name: "nothing usable", remote: "pipe", want: ratelimit.UnknownKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = req

			assert.Equal(t, tc.want, resolver.Resolve(c))
		})
	}
}

func TestClientIPIgnoresHeaderWhenNotTrusted(t *testing.T) {
	resolver := NewClientIPResolver(config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	assert.Equal(t, "192.0.2.9", resolver.Resolve(c))
}

type recordingSink struct {
	events []auditdomain.Event
}

func (s *recordingSink) Record(_ context.Context, event auditdomain.Event) {
	s.events = append(s.events, event)
}

func TestLoginRateLimitDeniesSixthAttempt(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	s := &Server{
		limiter: ratelimit.NewMemoryLimiter(map[ratelimit.Bucket]ratelimit.Policy{
			ratelimit.BucketLogin: {Limit: 5, Window: 5 * time.Minute},
		}, clk.Now),
		audit: sink,
	}

	resolver := NewClientIPResolver(config.Config{TrustedProxyHeader: "X-Forwarded-For"}, zap.NewNop())
	r := newTestEngine(resolver)
	r.POST("/auth/login", s.rateLimit(ratelimit.BucketLogin), func(c *gin.Context) {
		c.Status(http.StatusUnauthorized)
	})

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 5; i++ {
		rec := send("203.0.113.7")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
		clk.Advance(10 * time.Second)
	}

	rec := send("203.0.113.7")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "250", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body apperr.WireError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.CodeTooManyRequests, body.Error)

	require.Len(t, sink.events, 1)
	assert.Equal(t, auditdomain.ActionRateLimitDenied, sink.events[0].Action)
	assert.Equal(t, auditdomain.OutcomeDenied, sink.events[0].Outcome)

	// other addresses keep their own window
	assert.Equal(t, http.StatusUnauthorized, send("203.0.113.8").Code)
}

func TestLoginRateLimitIgnoresCredentialCorrectness(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		StoreTimeout:       time.Second,
		TrustedProxyHeader: "X-Forwarded-For",
		OAuth:              config.OAuthConfig{SessionTTL: time.Hour, SessionMaxLifetime: 2 * time.Hour},
		Lockout:            config.LockoutConfig{MaxFailures: 5, Cooldown: 15 * time.Minute},
	}

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	users, sessions := authrepo.New(conn)
	authSvc := authservice.NewService(authservice.Params{
		Log:         zap.NewNop(),
		Config:      cfg,
		Clock:       clk,
		Repo:        users,
		SessionRepo: sessions,
		GenID:       node,
	})
	_, err = authSvc.CreateUser(context.Background(), authdomain.CreateUserRequest{Username: "alice", Password: "correct-password"})
	require.NoError(t, err)

	sink := &recordingSink{}
	s := &Server{
		limiter: ratelimit.NewMemoryLimiter(map[ratelimit.Bucket]ratelimit.Policy{
			ratelimit.BucketLogin: {Limit: 5, Window: 5 * time.Minute},
		}, clk.Now),
		audit: sink,
	}
	login := authlocal.NewHandler(authlocal.Params{
		Log:      zap.NewNop(),
		Auth:     authSvc,
		Sessions: session.NewManager(cfg, clk),
	})

	r := newTestEngine(NewClientIPResolver(cfg, zap.NewNop()))
	r.POST("/auth/login", s.rateLimit(ratelimit.BucketLogin), login.Login)

	send := func(password string) *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string]string{"username": "alice", "password": password})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 4; i++ {
		require.Equal(t, http.StatusUnauthorized, send("wrong-password").Code, "attempt %d", i)
	}
	require.Equal(t, http.StatusOK, send("correct-password").Code)

	rec := send("correct-password")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	require.Len(t, sink.events, 1)
	assert.Equal(t, auditdomain.ActionRateLimitDenied, sink.events[0].Action)

	clk.Advance(5*time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, send("correct-password").Code)
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, ratelimit.Bucket, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, assert.AnError
}

func TestRateLimitFailsClosed(t *testing.T) {
	s := &Server{limiter: failingLimiter{}}
	r := newTestEngine(NewClientIPResolver(config.Config{}, zap.NewNop()))
	called := false
	r.POST("/oauth/token", s.rateLimit(ratelimit.BucketToken), func(c *gin.Context) {
		called = true
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/token", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

type stubAuthorizer struct {
	allowed map[string]bool
}

func (a stubAuthorizer) Authorize(_ context.Context, userID snowflake.ID, object, action string) error {
	if a.allowed[object+"|"+action] {
		return nil
	}
	return authorization.ErrForbidden
}

func withAdminUser(id snowflake.ID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextAdminUserKey, id)
		c.Next()
	}
}

func TestAdminAuthorizeMiddleware(t *testing.T) {
	s := &Server{authzSvc: stubAuthorizer{allowed: map[string]bool{
		authorization.ObjectClient + "|" + authorization.ActionClientView: true,
	}}}

	r := newTestEngine(NewClientIPResolver(config.Config{}, zap.NewNop()))
	admin := r.Group("/admin", withAdminUser(snowflake.ID(42)))
	admin.GET("/clients", s.authorize(authorization.ObjectClient, authorization.ActionClientView), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": []string{}})
	})
	admin.POST("/clients", s.authorize(authorization.ObjectClient, authorization.ActionClientCreate), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	r.GET("/admin/anonymous", s.authorize(authorization.ObjectClient, authorization.ActionClientView), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/clients", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/clients", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden","error_description":"permission denied"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/anonymous", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc.def.ghi")
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	token, ok = bearerToken("bearer  xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", token)

	_, ok = bearerToken("Basic Zm9vOmJhcg==")
	assert.False(t, ok)
	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = bearerToken("")
	assert.False(t, ok)
}

func TestMapErrorTranslatesDomainErrors(t *testing.T) {
	assert.Equal(t, http.StatusConflict, apperr.HTTPStatus(mapError(rbacdomain.ErrRoleExists)))
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(mapError(rbacdomain.ErrRoleNotFound)))
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(mapError(rbacdomain.ErrInvalidName)))
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(mapError(authorization.ErrForbidden)))

	internal := mapError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(internal))
	assert.Equal(t, "internal server error", apperr.Public(internal).ErrorDescription)

	// already classified errors pass through untouched
	assert.Same(t, apperr.ErrInvalidGrant, mapError(apperr.ErrInvalidGrant))
}
