package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	authlocal "github.com/smallbiznis/railgate/internal/auth/local"
	"github.com/smallbiznis/railgate/internal/authorization"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/oauth"
	"github.com/smallbiznis/railgate/internal/oauth/token"
	"github.com/smallbiznis/railgate/internal/observability"
	obslogger "github.com/smallbiznis/railgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/railgate/internal/observability/tracing"
	"github.com/smallbiznis/railgate/internal/ratelimit"
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewClientIPResolver),
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, clientIP *ClientIPResolver) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: apperr.Classify,
		ClientIP:        clientIP.Resolve,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, clientIP *ClientIPResolver) *gin.Engine {
	return NewEngine(obsCfg, clientIP)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	limiter  ratelimit.Limiter
	oauth    *oauth.Handler
	local    *authlocal.Handler
	tokens   *token.Engine
	authzSvc authorization.Service
	authsvc  authdomain.Service
	resolver rbacdomain.Resolver
	clients  clientdomain.Registry
	auditSvc auditdomain.Service
	audit    auditdomain.Sink
	metrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Limiter    ratelimit.Limiter
	OAuth      *oauth.Handler
	Local      *authlocal.Handler
	Tokens     *token.Engine
	AuthzSvc   authorization.Service
	Authsvc    authdomain.Service
	Resolver   rbacdomain.Resolver
	Clients    clientdomain.Registry
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		limiter:  p.Limiter,
		oauth:    p.OAuth,
		local:    p.Local,
		tokens:   p.Tokens,
		authzSvc: p.AuthzSvc,
		authsvc:  p.Authsvc,
		resolver: p.Resolver,
		clients:  p.Clients,
		auditSvc: p.AuditSvc,
		metrics:  p.ObsMetrics,
	}
	if p.AuditSvc != nil {
		svc.audit = p.AuditSvc
	}

	svc.registerOAuthRoutes()
	svc.registerAuthRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerOAuthRoutes() {
	o := s.engine.Group("/oauth")

	o.GET("/authorize", s.oauth.Authorize)
	o.GET("/consent/info", s.oauth.ConsentInfo)
	o.POST("/consent/submit", s.oauth.ConsentSubmit)
	o.POST("/token", s.rateLimit(ratelimit.BucketToken), s.oauth.Token)
	o.POST("/revoke", s.oauth.Revoke)
	o.POST("/introspect", s.oauth.Introspect)
	o.GET("/jwks", s.oauth.JWKS)
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/login", s.rateLimit(ratelimit.BucketLogin), s.local.Login)
	auth.POST("/logout", s.local.Logout)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.BearerRequired())

	// -------- Users --------
	admin.POST("/users", s.authorize(authorization.ObjectUser, authorization.ActionUserCreate), s.CreateUser)
	// Activation and deactivation are separate actions; SetUserActive checks the one it performs.
	admin.PATCH("/users/:id/active", s.SetUserActive)
	admin.GET("/users/:id/roles", s.authorize(authorization.ObjectRole, authorization.ActionRoleAssign), s.ListUserRoles)
	admin.POST("/users/:id/roles/:role", s.authorize(authorization.ObjectRole, authorization.ActionRoleAssign), s.AssignRole)
	admin.DELETE("/users/:id/roles/:role", s.authorize(authorization.ObjectRole, authorization.ActionRoleRevoke), s.RevokeRole)

	// -------- Roles & permissions --------
	admin.GET("/roles", s.authorize(authorization.ObjectRole, authorization.ActionRoleAssign), s.ListRoles)
	admin.POST("/roles", s.authorize(authorization.ObjectRole, authorization.ActionRoleCreate), s.CreateRole)
	admin.PATCH("/roles/:role/active", s.authorize(authorization.ObjectRole, authorization.ActionRoleUpdate), s.SetRoleActive)
	admin.POST("/permissions", s.authorize(authorization.ObjectPermission, authorization.ActionPermissionCreate), s.CreatePermission)
	admin.POST("/roles/:role/permissions/:permission", s.authorize(authorization.ObjectPermission, authorization.ActionPermissionGrant), s.GrantPermission)
	admin.DELETE("/roles/:role/permissions/:permission", s.authorize(authorization.ObjectPermission, authorization.ActionPermissionRevoke), s.RevokePermission)

	// -------- Clients --------
	admin.GET("/clients", s.authorize(authorization.ObjectClient, authorization.ActionClientView), s.ListClients)
	admin.POST("/clients", s.authorize(authorization.ObjectClient, authorization.ActionClientCreate), s.RegisterClient)
	admin.DELETE("/clients/:client_id", s.authorize(authorization.ObjectClient, authorization.ActionClientDeactivate), s.DeactivateClient)

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) record(c *gin.Context, event auditdomain.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Record(c.Request.Context(), event)
}
