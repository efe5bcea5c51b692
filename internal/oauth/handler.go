package oauth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/apperr"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/auth/session"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/zap"
)

var errLoginRequired = apperr.Authentication("login_required", "a valid session is required")

// Handler serves the OAuth endpoints.
type Handler struct {
	svc        *Service
	authsvc    authdomain.Service
	sessions   *session.Manager
	log        *zap.Logger
	loginURL   string
	consentURL string
}

func NewHandler(svc *Service, authsvc authdomain.Service, sessions *session.Manager, log *zap.Logger, cfg config.Config) *Handler {
	return &Handler{
		svc:        svc,
		authsvc:    authsvc,
		sessions:   sessions,
		log:        log.Named("oauth.handler"),
		loginURL:   cfg.LoginURL,
		consentURL: cfg.ConsentURL,
	}
}

func (h *Handler) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apperr.Abort(c, apperr.ErrInvalidRequest)
		return
	}
	c.Set("client_id", strings.TrimSpace(req.ClientID))

	sess, err := h.sessions.Current(c, h.authsvc)
	if err != nil {
		apperr.Abort(c, apperr.Internal(err, "resolve session"))
		return
	}

	result, err := h.svc.Authorize(c.Request.Context(), req, sess)
	if err != nil {
		var rerr *RedirectError
		if errors.As(err, &rerr) {
			_ = c.Error(rerr.Err)
			c.Redirect(http.StatusFound, rerr.Location())
			return
		}
		apperr.Abort(c, err)
		return
	}

	switch result.Step {
	case StepLogin:
		returnTo := url.Values{}
		returnTo.Set("return_to", c.Request.URL.RequestURI())
		c.Redirect(http.StatusFound, appendQuery(h.loginURL, returnTo))
	case StepConsent:
		c.Redirect(http.StatusFound, appendQuery(h.consentURL, req.normalize().Values()))
	default:
		h.log.Info("authorization code issued",
			zap.String("client_id", result.Client.ClientID),
			zap.String("user_id", sess.UserID.String()),
		)
		c.Redirect(http.StatusFound, result.Location)
	}
}

func (h *Handler) ConsentInfo(c *gin.Context) {
	sess, ok := h.requireSession(c)
	if !ok {
		return
	}
	var req AuthorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apperr.Abort(c, apperr.ErrInvalidRequest)
		return
	}
	info, err := h.svc.ConsentInfo(c.Request.Context(), req)
	if err != nil {
		apperr.Abort(c, unwrapRedirect(err))
		return
	}
	h.log.Debug("consent info served",
		zap.String("client_id", info.ClientID),
		zap.String("user_id", sess.UserID.String()),
	)
	c.JSON(http.StatusOK, info)
}

type consentSubmitRequest struct {
	Approve             bool   `json:"approve"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

func (h *Handler) ConsentSubmit(c *gin.Context) {
	sess, ok := h.requireSession(c)
	if !ok {
		return
	}
	var body consentSubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.ErrInvalidRequest)
		return
	}

	location, err := h.svc.SubmitConsent(c.Request.Context(), ConsentDecision{
		Approve: body.Approve,
		AuthorizeRequest: AuthorizeRequest{
			ResponseType:        ResponseTypeCode,
			ClientID:            body.ClientID,
			RedirectURI:         body.RedirectURI,
			Scope:               body.Scope,
			State:               body.State,
			CodeChallenge:       body.CodeChallenge,
			CodeChallengeMethod: body.CodeChallengeMethod,
		},
	}, sess)
	if err != nil {
		var rerr *RedirectError
		if errors.As(err, &rerr) {
			_ = c.Error(rerr.Err)
			c.JSON(http.StatusOK, gin.H{"redirect_url": rerr.Location()})
			return
		}
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect_url": location})
}

func (h *Handler) Token(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		apperr.Abort(c, apperr.ErrInvalidRequest)
		return
	}
	clientID, secret, err := clientCredentials(c)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	grantType := strings.TrimSpace(c.PostForm("grant_type"))
	c.Set("grant_type", grantType)
	c.Set("client_id", clientID)

	pair, err := h.svc.Token(c.Request.Context(), TokenRequest{
		GrantType:    grantType,
		ClientID:     clientID,
		ClientSecret: secret,
		Code:         strings.TrimSpace(c.PostForm("code")),
		RedirectURI:  strings.TrimSpace(c.PostForm("redirect_uri")),
		CodeVerifier: strings.TrimSpace(c.PostForm("code_verifier")),
		RefreshToken: strings.TrimSpace(c.PostForm("refresh_token")),
		Scope:        strings.TrimSpace(c.PostForm("scope")),
	})
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) Revoke(c *gin.Context) {
	req, ok := tokenActionRequest(c)
	if !ok {
		return
	}
	if err := h.svc.Revoke(c.Request.Context(), req); err != nil {
		apperr.Abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) Introspect(c *gin.Context) {
	req, ok := tokenActionRequest(c)
	if !ok {
		return
	}
	result, err := h.svc.Introspect(c.Request.Context(), req)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, result)
}

func (h *Handler) JWKS(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, h.svc.JWKS())
}

func (h *Handler) requireSession(c *gin.Context) (*authdomain.SessionContext, bool) {
	sess, err := h.sessions.Current(c, h.authsvc)
	if err != nil {
		apperr.Abort(c, apperr.Internal(err, "resolve session"))
		return nil, false
	}
	if sess == nil {
		apperr.Abort(c, errLoginRequired)
		return nil, false
	}
	return sess, true
}

func tokenActionRequest(c *gin.Context) (TokenActionRequest, bool) {
	if err := c.Request.ParseForm(); err != nil {
		apperr.Abort(c, apperr.ErrInvalidRequest)
		return TokenActionRequest{}, false
	}
	clientID, secret, err := clientCredentials(c)
	if err != nil {
		apperr.Abort(c, err)
		return TokenActionRequest{}, false
	}
	c.Set("client_id", clientID)
	return TokenActionRequest{
		ClientID:      clientID,
		ClientSecret:  secret,
		Token:         c.PostForm("token"),
		TokenTypeHint: c.PostForm("token_type_hint"),
	}, true
}

// clientCredentials reads client_secret_basic or client_secret_post. A
// request using both with different ids is rejected.
func clientCredentials(c *gin.Context) (string, string, error) {
	formID := strings.TrimSpace(c.PostForm("client_id"))
	formSecret := c.PostForm("client_secret")

	basicID, basicSecret, ok := c.Request.BasicAuth()
	if !ok {
		return formID, formSecret, nil
	}
	// RFC 6749 section 2.3.1 form-encodes both values before base64.
	id, err := url.QueryUnescape(basicID)
	if err != nil {
		return "", "", apperr.ErrInvalidClient
	}
	secret, err := url.QueryUnescape(basicSecret)
	if err != nil {
		return "", "", apperr.ErrInvalidClient
	}
	if formID != "" && formID != id {
		return "", "", apperr.ErrInvalidClient
	}
	return strings.TrimSpace(id), secret, nil
}

func unwrapRedirect(err error) error {
	var rerr *RedirectError
	if errors.As(err, &rerr) {
		return rerr.Err
	}
	return err
}
