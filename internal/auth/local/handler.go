package local

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	"github.com/smallbiznis/railgate/internal/auditcontext"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/auth/session"
	"github.com/smallbiznis/railgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Auth     authdomain.Service
	Sessions *session.Manager
	Audit    auditdomain.Sink `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

// Handler manages local auth endpoints.
type Handler struct {
	authsvc  authdomain.Service
	sessions *session.Manager
	audit    auditdomain.Sink
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewHandler(p Params) *Handler {
	return &Handler{
		authsvc:  p.Auth,
		sessions: p.Sessions,
		audit:    p.Audit,
		metrics:  p.Metrics,
		log:      p.Log.Named("auth.local.handler"),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Redirect string `json:"redirect"`
}

type loginResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Abort(c, apperr.ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	username := strings.ToLower(strings.TrimSpace(req.Username))
	result, err := h.authsvc.Login(ctx, authdomain.LoginRequest{
		Username:  username,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: auditcontext.IPAddressFromContext(ctx),
	})
	if err != nil {
		if !errors.Is(err, authdomain.ErrInvalidCredentials) {
			apperr.Abort(c, apperr.Internal(err, "login"))
			return
		}
		reason := authdomain.FailureReason(err)
		h.log.Info("local login rejected",
			zap.String("request_id", auditcontext.RequestIDFromContext(ctx)),
			zap.String("reason", reason),
		)
		h.metrics.RecordLoginAttempt(ctx, string(auditdomain.OutcomeFailure))
		h.record(c, auditdomain.Event{
			ActorType:    auditcontext.ActorAnonymous,
			Action:       auditdomain.ActionUserLogin,
			ResourceType: "user",
			Outcome:      auditdomain.OutcomeFailure,
			Reason:       reason,
			Metadata:     map[string]any{"username": username},
		})
		apperr.Abort(c, apperr.ErrInvalidCredentials)
		return
	}

	h.sessions.Set(c, result.RawToken, result.ExpiresAt)
	h.metrics.RecordLoginAttempt(ctx, string(auditdomain.OutcomeSuccess))
	userID := result.Session.UserID.String()
	h.record(c, auditdomain.Event{
		ActorType:    auditcontext.ActorUser,
		ActorID:      userID,
		Action:       auditdomain.ActionUserLogin,
		ResourceType: "user",
		ResourceID:   userID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     map[string]any{"session_id": result.Session.SessionID.String()},
	})

	h.log.Info("local login created session",
		zap.String("request_id", auditcontext.RequestIDFromContext(ctx)),
		zap.String("user_id", userID),
	)

	c.JSON(http.StatusOK, loginResponse{Success: true, RedirectURL: SafeRedirect(req.Redirect)})
}

func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if token, ok := h.sessions.ReadToken(c); ok {
		sess, authErr := h.authsvc.Authenticate(ctx, token)
		if err := h.authsvc.Logout(ctx, token); err != nil && !errors.Is(err, authdomain.ErrInvalidSession) {
			apperr.Abort(c, apperr.Internal(err, "logout"))
			return
		}
		if authErr == nil && sess != nil {
			userID := sess.UserID.String()
			h.record(c, auditdomain.Event{
				ActorType:    auditcontext.ActorUser,
				ActorID:      userID,
				Action:       auditdomain.ActionUserLogout,
				ResourceType: "user",
				ResourceID:   userID,
				Outcome:      auditdomain.OutcomeSuccess,
			})
		}
	}

	h.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) record(c *gin.Context, event auditdomain.Event) {
	if h.audit == nil {
		return
	}
	h.audit.Record(c.Request.Context(), event)
}

// SafeRedirect only lets through same-origin relative paths. Anything else
// collapses to "/".
func SafeRedirect(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "/"
	}
	return raw
}
