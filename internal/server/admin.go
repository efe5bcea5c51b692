package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	"github.com/smallbiznis/railgate/internal/auditcontext"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/authorization"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
)

const contextAdminUserKey = "admin_user_id"

var errUserTokenRequired = apperr.ErrForbidden.WithDescription("a user access token is required")

// BearerRequired authenticates admin calls with an access token issued by
// this server. Client credentials tokens carry no user and are refused.
func (s *Server) BearerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			apperr.Abort(c, apperr.ErrInvalidToken)
			return
		}

		claims, err := s.tokens.ParseAccessToken(c.Request.Context(), raw)
		if err != nil {
			var internal *apperr.Error
			if errors.As(err, &internal) && internal.Kind == apperr.KindInternal {
				apperr.Abort(c, internal)
				return
			}
			apperr.Abort(c, apperr.ErrInvalidToken)
			return
		}
		if claims.UserID == "" {
			apperr.Abort(c, errUserTokenRequired)
			return
		}
		userID, err := snowflake.ParseString(claims.UserID)
		if err != nil {
			apperr.Abort(c, apperr.ErrInvalidToken)
			return
		}

		c.Set(contextAdminUserKey, userID)
		c.Set("client_id", claims.ClientID)
		ctx := auditcontext.WithActor(c.Request.Context(), auditcontext.ActorUser, userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.can(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) can(c *gin.Context, object, action string) error {
	userID, ok := adminUserID(c)
	if !ok {
		return apperr.ErrInvalidToken
	}
	return s.authzSvc.Authorize(c.Request.Context(), userID, object, action)
}

func adminUserID(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextAdminUserKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok && id != 0
}

func pathUserID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		return 0, invalidRequestError("invalid user id")
	}
	return id, nil
}

type userView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserView(u *authdomain.User) userView {
	return userView{
		ID:        u.ID.String(),
		Username:  u.Username,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Active   *bool  `json:"active"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid request body"))
		return
	}

	user, err := s.authsvc.CreateUser(c.Request.Context(), authdomain.CreateUserRequest{
		Username: req.Username,
		Password: req.Password,
		Active:   req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.record(c, auditdomain.Event{
		Action:       auditdomain.ActionUserCreated,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     map[string]any{"username": user.Username},
	})
	c.JSON(http.StatusCreated, newUserView(user))
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) SetUserActive(c *gin.Context) {
	userID, err := pathUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		AbortWithError(c, invalidRequestError("active is required"))
		return
	}

	action, auditAction := authorization.ActionUserDeactivate, auditdomain.ActionUserDeactivated
	if *req.Active {
		action, auditAction = authorization.ActionUserActivate, auditdomain.ActionUserActivated
	}
	if err := s.can(c, authorization.ObjectUser, action); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authsvc.SetActive(c.Request.Context(), userID, *req.Active); err != nil {
		AbortWithError(c, err)
		return
	}

	s.record(c, auditdomain.Event{
		Action:       auditAction,
		ResourceType: "user",
		ResourceID:   userID.String(),
		Outcome:      auditdomain.OutcomeSuccess,
	})
	c.JSON(http.StatusOK, gin.H{"id": userID.String(), "active": *req.Active})
}

func (s *Server) ListUserRoles(c *gin.Context) {
	userID, err := pathUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	roles, err := s.resolver.RolesForUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": roles})
}

func (s *Server) AssignRole(c *gin.Context) {
	s.mutateUserRole(c, s.resolver.AssignRole)
}

func (s *Server) RevokeRole(c *gin.Context) {
	s.mutateUserRole(c, s.resolver.RevokeRole)
}

func (s *Server) mutateUserRole(c *gin.Context, fn func(ctx context.Context, userID snowflake.ID, role string) error) {
	userID, err := pathUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.authsvc.FindByID(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := fn(c.Request.Context(), userID, c.Param("role")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type namedRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) ListRoles(c *gin.Context) {
	roles, err := s.resolver.ListRoles(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": roles})
}

func (s *Server) CreateRole(c *gin.Context) {
	var req namedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid request body"))
		return
	}
	role, err := s.resolver.CreateRole(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

func (s *Server) SetRoleActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		AbortWithError(c, invalidRequestError("active is required"))
		return
	}
	if err := s.resolver.SetRoleActive(c.Request.Context(), c.Param("role"), *req.Active); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CreatePermission(c *gin.Context) {
	var req namedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid request body"))
		return
	}
	perm, err := s.resolver.CreatePermission(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}

func (s *Server) GrantPermission(c *gin.Context) {
	if err := s.resolver.GrantPermission(c.Request.Context(), c.Param("role"), c.Param("permission")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RevokePermission(c *gin.Context) {
	if err := s.resolver.RevokePermission(c.Request.Context(), c.Param("role"), c.Param("permission")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListClients(c *gin.Context) {
	clients, err := s.clients.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	views := make([]clientdomain.ClientView, 0, len(clients))
	for i := range clients {
		views = append(views, clients[i].View())
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

type registerClientRequest struct {
	ClientID       string   `json:"client_id"`
	Name           string   `json:"name"`
	Type           string   `json:"client_type"`
	RedirectURIs   []string `json:"redirect_uris"`
	Scopes         []string `json:"scopes"`
	GrantTypes     []string `json:"grant_types"`
	RequireConsent bool     `json:"require_consent"`
}

type registerClientResponse struct {
	clientdomain.ClientView
	ClientSecret string `json:"client_secret,omitempty"`
}

func (s *Server) RegisterClient(c *gin.Context) {
	var req registerClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid request body"))
		return
	}

	client, secret, err := s.clients.Register(c.Request.Context(), clientdomain.RegisterRequest{
		ClientID:       req.ClientID,
		Name:           req.Name,
		Type:           clientdomain.ClientType(strings.ToLower(strings.TrimSpace(req.Type))),
		RedirectURIs:   req.RedirectURIs,
		Scopes:         req.Scopes,
		GrantTypes:     req.GrantTypes,
		RequireConsent: req.RequireConsent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.record(c, auditdomain.Event{
		Action:       auditdomain.ActionClientRegistered,
		ResourceType: "client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata: map[string]any{
			"client_type":   string(client.Type),
			"redirect_uris": client.RedirectURIs,
		},
	})

	// The plaintext secret is only ever returned here.
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, registerClientResponse{ClientView: client.View(), ClientSecret: secret})
}

func (s *Server) DeactivateClient(c *gin.Context) {
	clientID := strings.TrimSpace(c.Param("client_id"))
	if err := s.clients.Deactivate(c.Request.Context(), clientID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.record(c, auditdomain.Event{
		Action:       auditdomain.ActionClientDeactivated,
		ResourceType: "client",
		ResourceID:   clientID,
		Outcome:      auditdomain.OutcomeSuccess,
	})
	c.Status(http.StatusNoContent)
}
