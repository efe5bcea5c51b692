// Package oauth drives the authorization flow: it validates authorize
// requests, decides between login, consent and code issuance, and runs the
// token, revocation and introspection endpoints on top of the code and
// token engines.
package oauth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	"github.com/smallbiznis/railgate/internal/auditcontext"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/auth/scope"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/oauth/code"
	"github.com/smallbiznis/railgate/internal/oauth/token"
	"github.com/smallbiznis/railgate/internal/observability/metrics"
	"github.com/smallbiznis/railgate/internal/pkce"
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ResponseTypeCode = "code"

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Clock       clock.Clock
	Registry    clientdomain.Registry
	Codes       *code.Engine
	Tokens      *token.Engine
	Users       authdomain.Service
	Permissions rbacdomain.Resolver
	Consents    ConsentStore
	Audit       auditdomain.Sink `optional:"true"`
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	registry     clientdomain.Registry
	codes        *code.Engine
	tokens       *token.Engine
	users        authdomain.Service
	permissions  rbacdomain.Resolver
	consents     ConsentStore
	audit        auditdomain.Sink
	metrics      *metrics.Metrics
	storeTimeout time.Duration
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:          p.Log.Named("oauth.service"),
		clock:        clk,
		registry:     p.Registry,
		codes:        p.Codes,
		tokens:       p.Tokens,
		users:        p.Users,
		permissions:  p.Permissions,
		consents:     p.Consents,
		audit:        p.Audit,
		metrics:      p.Metrics,
		storeTimeout: p.Config.StoreTimeout,
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// AuthorizeRequest carries the authorization endpoint parameters.
type AuthorizeRequest struct {
	ResponseType        string `form:"response_type" json:"response_type"`
	ClientID            string `form:"client_id" json:"client_id"`
	RedirectURI         string `form:"redirect_uri" json:"redirect_uri"`
	Scope               string `form:"scope" json:"scope"`
	State               string `form:"state" json:"state"`
	CodeChallenge       string `form:"code_challenge" json:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method" json:"code_challenge_method"`
}

func (r AuthorizeRequest) normalize() AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType:        strings.TrimSpace(r.ResponseType),
		ClientID:            strings.TrimSpace(r.ClientID),
		RedirectURI:         strings.TrimSpace(r.RedirectURI),
		Scope:               strings.TrimSpace(r.Scope),
		State:               r.State,
		CodeChallenge:       strings.TrimSpace(r.CodeChallenge),
		CodeChallengeMethod: strings.TrimSpace(r.CodeChallengeMethod),
	}
}

// Values encodes the request so the login and consent UIs can hand it back.
func (r AuthorizeRequest) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("response_type", r.ResponseType)
	set("client_id", r.ClientID)
	set("redirect_uri", r.RedirectURI)
	set("scope", r.Scope)
	set("state", r.State)
	set("code_challenge", r.CodeChallenge)
	set("code_challenge_method", r.CodeChallengeMethod)
	return v
}

type Step int

const (
	StepLogin Step = iota
	StepConsent
	StepRedirect
)

func (s Step) String() string {
	switch s {
	case StepLogin:
		return "login"
	case StepConsent:
		return "consent"
	default:
		return "redirect"
	}
}

type AuthorizeResult struct {
	Step   Step
	Client *clientdomain.OAuthClient
	Scope  scope.Set
	// Location is set for StepRedirect.
	Location string
}

// RedirectError is an authorization failure reported to the client through
// its registered redirect URI.
type RedirectError struct {
	RedirectURI string
	State       string
	Err         error
}

func (e *RedirectError) Error() string { return e.Err.Error() }

func (e *RedirectError) Unwrap() error { return e.Err }

// Location builds redirect_uri?error=...&error_description=...&state=...
func (e *RedirectError) Location() string {
	wire := apperr.Public(e.Err)
	params := url.Values{}
	params.Set("error", wire.Error)
	if wire.ErrorDescription != "" {
		params.Set("error_description", wire.ErrorDescription)
	}
	if e.State != "" {
		params.Set("state", e.State)
	}
	return appendQuery(e.RedirectURI, params)
}

func appendQuery(rawURI string, params url.Values) string {
	u, err := url.Parse(rawURI)
	if err != nil {
		return rawURI
	}
	query := u.Query()
	for key, values := range params {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

var (
	errUnknownClient         = apperr.Validation(apperr.CodeInvalidClient, "unknown or inactive client")
	errRedirectNotRegistered = apperr.ErrInvalidRequest.WithDescription("redirect_uri is not registered for this client")
)

// validate runs the authorize checks. Failures before the redirect URI is
// trusted are returned bare; later ones come wrapped in *RedirectError.
func (s *Service) validate(ctx context.Context, req AuthorizeRequest) (*clientdomain.OAuthClient, scope.Set, error) {
	if req.ClientID == "" {
		return nil, nil, apperr.ErrInvalidRequest.WithDescription("client_id is required")
	}
	client, err := s.registry.Lookup(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, clientdomain.ErrInvalidClient) {
			return nil, nil, errUnknownClient
		}
		return nil, nil, apperr.Internal(err, "lookup client")
	}
	if !s.registry.ValidateRedirectURI(client, req.RedirectURI) {
		return nil, nil, errRedirectNotRegistered
	}

	fail := func(err error) (*clientdomain.OAuthClient, scope.Set, error) {
		return client, nil, &RedirectError{RedirectURI: req.RedirectURI, State: req.State, Err: err}
	}
	if req.ResponseType != ResponseTypeCode {
		return fail(apperr.ErrUnsupportedResType)
	}
	if !s.registry.AllowsGrant(client, clientdomain.GrantAuthorizationCode) {
		return fail(apperr.ErrUnauthorizedClient)
	}
	granted, err := s.registry.ValidateScope(client, req.Scope)
	if err != nil {
		return fail(apperr.ErrInvalidScope)
	}
	switch {
	case req.CodeChallenge != "" || req.CodeChallengeMethod != "":
		if err := pkce.ValidateChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
			return fail(apperr.ErrInvalidRequest.WithDescription(err.Error()))
		}
	case s.registry.RequiresPKCE(client):
		return fail(apperr.ErrInvalidRequest.WithDescription(pkce.ErrMissingChallenge.Error()))
	}
	return client, granted, nil
}

// Authorize decides the next step for an authorize request. sess is nil
// when the user agent carries no valid session.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest, sess *authdomain.SessionContext) (*AuthorizeResult, error) {
	req = req.normalize()
	client, granted, err := s.validate(ctx, req)
	if err != nil {
		s.record(ctx, auditdomain.Event{
			Action:       auditdomain.ActionAuthorize,
			ResourceType: "oauth_client",
			ResourceID:   req.ClientID,
			Outcome:      auditdomain.OutcomeFailure,
			Reason:       apperr.As(err).Code,
		})
		return nil, err
	}

	if sess == nil {
		s.record(ctx, auditdomain.Event{
			Action:       auditdomain.ActionAuthorize,
			ResourceType: "oauth_client",
			ResourceID:   client.ClientID,
			Outcome:      auditdomain.OutcomeSuccess,
			Metadata:     map[string]any{"next": StepLogin.String(), "scope": granted.String()},
		})
		return &AuthorizeResult{Step: StepLogin, Client: client, Scope: granted}, nil
	}

	ctx = auditcontext.WithActor(ctx, auditcontext.ActorUser, sess.UserID.String())
	if client.RequireConsent {
		covered, err := s.consentCovers(ctx, sess, client, granted)
		if err != nil {
			s.recordFailure(ctx, auditdomain.ActionAuthorize, client.ClientID, err)
			return nil, &RedirectError{RedirectURI: req.RedirectURI, State: req.State, Err: err}
		}
		if !covered {
			s.record(ctx, auditdomain.Event{
				Action:       auditdomain.ActionAuthorize,
				ResourceType: "oauth_client",
				ResourceID:   client.ClientID,
				Outcome:      auditdomain.OutcomeSuccess,
				Metadata:     map[string]any{"next": StepConsent.String(), "scope": granted.String()},
			})
			return &AuthorizeResult{Step: StepConsent, Client: client, Scope: granted}, nil
		}
	}

	location, err := s.issueCode(ctx, client, sess, req, granted)
	if err != nil {
		s.recordFailure(ctx, auditdomain.ActionCodeIssued, client.ClientID, err)
		return nil, err
	}
	s.record(ctx, auditdomain.Event{
		Action:       auditdomain.ActionCodeIssued,
		ResourceType: "oauth_client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     map[string]any{"scope": granted.String()},
	})
	return &AuthorizeResult{Step: StepRedirect, Client: client, Scope: granted, Location: location}, nil
}

func (s *Service) consentCovers(ctx context.Context, sess *authdomain.SessionContext, client *clientdomain.OAuthClient, granted scope.Set) (bool, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	grant, err := s.consents.Find(storeCtx, sess.UserID, client.ClientID)
	if errors.Is(err, errConsentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Internal(err, "load consent")
	}
	return grant.Covers(granted), nil
}

func (s *Service) issueCode(ctx context.Context, client *clientdomain.OAuthClient, sess *authdomain.SessionContext, req AuthorizeRequest, granted scope.Set) (string, error) {
	issued, err := s.codes.Create(ctx, code.CreateRequest{
		Client:              client,
		UserID:              sess.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               granted.String(),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		return "", &RedirectError{RedirectURI: req.RedirectURI, State: req.State, Err: err}
	}
	params := url.Values{}
	params.Set("code", issued.Code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	return appendQuery(req.RedirectURI, params), nil
}

// ConsentInfo is what the consent UI renders.
type ConsentInfo struct {
	ClientID    string   `json:"client_id"`
	ClientName  string   `json:"client_name"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirect_uri"`
}

func (s *Service) ConsentInfo(ctx context.Context, req AuthorizeRequest) (*ConsentInfo, error) {
	req = req.normalize()
	if req.ResponseType == "" {
		req.ResponseType = ResponseTypeCode
	}
	client, granted, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ConsentInfo{
		ClientID:    client.ClientID,
		ClientName:  client.Name,
		Scopes:      granted,
		RedirectURI: req.RedirectURI,
	}, nil
}

type ConsentDecision struct {
	AuthorizeRequest
	Approve bool
}

// SubmitConsent stores an approval and issues a code, or reports
// access_denied. Either way the result is a location for the user agent.
func (s *Service) SubmitConsent(ctx context.Context, decision ConsentDecision, sess *authdomain.SessionContext) (string, error) {
	req := decision.AuthorizeRequest.normalize()
	if req.ResponseType == "" {
		req.ResponseType = ResponseTypeCode
	}
	ctx = auditcontext.WithActor(ctx, auditcontext.ActorUser, sess.UserID.String())
	client, granted, err := s.validate(ctx, req)
	if err != nil {
		s.recordFailure(ctx, auditdomain.ActionConsent, req.ClientID, err)
		return "", err
	}

	if !decision.Approve {
		s.record(ctx, auditdomain.Event{
			Action:       auditdomain.ActionConsent,
			ResourceType: "oauth_client",
			ResourceID:   client.ClientID,
			Outcome:      auditdomain.OutcomeDenied,
			Metadata:     map[string]any{"scope": granted.String()},
		})
		return "", &RedirectError{RedirectURI: req.RedirectURI, State: req.State, Err: apperr.ErrAccessDenied}
	}

	now := s.clock.Now()
	storeCtx, cancel := s.storeCtx(ctx)
	err = s.consents.Save(storeCtx, &ConsentGrant{
		UserID:    sess.UserID,
		ClientID:  client.ClientID,
		Scopes:    granted,
		CreatedAt: now,
		UpdatedAt: now,
	})
	cancel()
	if err != nil {
		err = apperr.Internal(err, "store consent")
		s.recordFailure(ctx, auditdomain.ActionConsent, client.ClientID, err)
		return "", &RedirectError{RedirectURI: req.RedirectURI, State: req.State, Err: err}
	}

	location, err := s.issueCode(ctx, client, sess, req, granted)
	if err != nil {
		s.recordFailure(ctx, auditdomain.ActionCodeIssued, client.ClientID, err)
		return "", err
	}
	s.record(ctx, auditdomain.Event{
		Action:       auditdomain.ActionConsent,
		ResourceType: "oauth_client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     map[string]any{"scope": granted.String(), "code_issued": true},
	})
	return location, nil
}

// TokenRequest is the token endpoint form after client credentials have
// been extracted from either the Authorization header or the body.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

func (s *Service) Token(ctx context.Context, req TokenRequest) (*token.TokenPair, error) {
	grantType := strings.TrimSpace(req.GrantType)
	pair, err := s.token(ctx, grantType, req)
	if err != nil {
		wire := apperr.As(err)
		s.metrics.RecordGrantFailure(ctx, grantType, wire.Code)
		s.log.Info("token request rejected",
			zap.String("grant_type", grantType),
			zap.String("client_id", req.ClientID),
			zap.String("error_code", wire.Code),
			zap.String("reason", wire.Reason),
		)
		s.record(ctx, auditdomain.Event{
			ActorType:    auditcontext.ActorClient,
			ActorID:      req.ClientID,
			Action:       auditdomain.ActionTokenIssued,
			ResourceType: "oauth_client",
			ResourceID:   req.ClientID,
			Outcome:      auditdomain.OutcomeFailure,
			Reason:       failureReason(wire),
			Metadata:     map[string]any{"grant_type": grantType},
		})
		return nil, err
	}
	return pair, nil
}

func failureReason(e *apperr.Error) string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Code
}

func (s *Service) token(ctx context.Context, grantType string, req TokenRequest) (*token.TokenPair, error) {
	if grantType == "" {
		return nil, apperr.ErrInvalidRequest.WithDescription("grant_type is required")
	}
	client, err := s.authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch grantType {
	case clientdomain.GrantAuthorizationCode:
		return s.exchangeCode(ctx, client, req)
	case clientdomain.GrantRefreshToken:
		return s.refresh(ctx, client, req)
	case clientdomain.GrantClientCredentials:
		return s.clientCredentials(ctx, client, req)
	default:
		return nil, apperr.ErrUnsupportedGrant
	}
}

func (s *Service) authenticate(ctx context.Context, clientID, secret string) (*clientdomain.OAuthClient, error) {
	client, err := s.registry.Authenticate(ctx, strings.TrimSpace(clientID), secret)
	if err != nil {
		if errors.Is(err, clientdomain.ErrInvalidClient) {
			return nil, apperr.ErrInvalidClient
		}
		return nil, apperr.Internal(err, "authenticate client")
	}
	return client, nil
}

func (s *Service) exchangeCode(ctx context.Context, client *clientdomain.OAuthClient, req TokenRequest) (*token.TokenPair, error) {
	if !s.registry.AllowsGrant(client, clientdomain.GrantAuthorizationCode) {
		return nil, apperr.ErrUnauthorizedClient
	}
	if req.Code == "" || req.RedirectURI == "" {
		return nil, apperr.ErrInvalidRequest.WithDescription("code and redirect_uri are required")
	}
	record, err := s.codes.FindAndConsume(ctx, req.Code, code.Binding{
		ClientID:     client.ClientID,
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
		CodeVerifier: strings.TrimSpace(req.CodeVerifier),
	})
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		return nil, apperr.Grant("user_not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load code subject")
	}
	if !user.Active {
		return nil, apperr.Grant("user_inactive")
	}
	perms, err := s.permissions.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(err, "resolve permissions")
	}
	granted, _ := scope.Parse(record.Scope)

	pair, err := s.tokens.Issue(ctx, token.IssueRequest{
		Client:      client,
		User:        &token.Subject{ID: user.ID, Username: user.Username},
		GrantType:   clientdomain.GrantAuthorizationCode,
		Scope:       granted,
		Permissions: perms,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.Event{
		ActorType:    auditcontext.ActorUser,
		ActorID:      user.ID.String(),
		Action:       auditdomain.ActionTokenIssued,
		ResourceType: "oauth_client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata: map[string]any{
			"grant_type": clientdomain.GrantAuthorizationCode,
			"scope":      pair.Scope,
			"jti":        pair.JTI,
		},
	})
	return pair, nil
}

func (s *Service) refresh(ctx context.Context, client *clientdomain.OAuthClient, req TokenRequest) (*token.TokenPair, error) {
	if !s.registry.AllowsGrant(client, clientdomain.GrantRefreshToken) {
		return nil, apperr.ErrUnauthorizedClient
	}
	if req.RefreshToken == "" {
		return nil, apperr.ErrInvalidRequest.WithDescription("refresh_token is required")
	}
	pair, err := s.tokens.Refresh(ctx, client, token.RefreshRequest{
		RefreshToken: req.RefreshToken,
		ClientID:     client.ClientID,
		Scope:        req.Scope,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.Event{
		ActorType:    auditcontext.ActorClient,
		ActorID:      client.ClientID,
		Action:       auditdomain.ActionTokenRefreshed,
		ResourceType: "oauth_client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     map[string]any{"scope": pair.Scope, "jti": pair.JTI},
	})
	return pair, nil
}

func (s *Service) clientCredentials(ctx context.Context, client *clientdomain.OAuthClient, req TokenRequest) (*token.TokenPair, error) {
	if client.IsPublic() || !s.registry.AllowsGrant(client, clientdomain.GrantClientCredentials) {
		return nil, apperr.ErrUnauthorizedClient
	}
	granted, err := s.registry.ValidateScope(client, req.Scope)
	if err != nil {
		return nil, apperr.ErrInvalidScope
	}
	pair, err := s.tokens.Issue(ctx, token.IssueRequest{
		Client:    client,
		GrantType: clientdomain.GrantClientCredentials,
		Scope:     granted,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, auditdomain.Event{
		ActorType:    auditcontext.ActorClient,
		ActorID:      client.ClientID,
		Action:       auditdomain.ActionTokenIssued,
		ResourceType: "oauth_client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata: map[string]any{
			"grant_type": clientdomain.GrantClientCredentials,
			"scope":      pair.Scope,
			"jti":        pair.JTI,
		},
	})
	return pair, nil
}

// TokenActionRequest is the body of the revocation and introspection
// endpoints.
type TokenActionRequest struct {
	ClientID      string
	ClientSecret  string
	Token         string
	TokenTypeHint string
}

// Revoke succeeds for unknown or foreign tokens. Only client authentication
// and store failures are reported.
func (s *Service) Revoke(ctx context.Context, req TokenActionRequest) error {
	client, err := s.authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		s.recordClientFailure(ctx, auditdomain.ActionTokenRevoked, req.ClientID, err)
		return err
	}
	if err := s.tokens.Revoke(ctx, strings.TrimSpace(req.Token), strings.TrimSpace(req.TokenTypeHint), client.ClientID); err != nil {
		return err
	}
	s.record(ctx, auditdomain.Event{
		ActorType:    auditcontext.ActorClient,
		ActorID:      client.ClientID,
		Action:       auditdomain.ActionTokenRevoked,
		ResourceType: "oauth_client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     map[string]any{"token_type_hint": req.TokenTypeHint},
	})
	return nil
}

func (s *Service) Introspect(ctx context.Context, req TokenActionRequest) (token.Introspection, error) {
	client, err := s.authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		s.recordClientFailure(ctx, auditdomain.ActionTokenIntrospected, req.ClientID, err)
		return token.Introspection{}, err
	}
	result := s.tokens.Introspect(ctx, strings.TrimSpace(req.Token), strings.TrimSpace(req.TokenTypeHint))
	s.record(ctx, auditdomain.Event{
		ActorType:    auditcontext.ActorClient,
		ActorID:      client.ClientID,
		Action:       auditdomain.ActionTokenIntrospected,
		ResourceType: "oauth_client",
		ResourceID:   client.ClientID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     map[string]any{"active": result.Active},
	})
	return result, nil
}

func (s *Service) JWKS() jose.JSONWebKeySet {
	return s.tokens.JWKS()
}

// recordFailure audits a failed step taken on behalf of the session user.
func (s *Service) recordFailure(ctx context.Context, action, clientID string, err error) {
	s.record(ctx, auditdomain.Event{
		Action:       action,
		ResourceType: "oauth_client",
		ResourceID:   clientID,
		Outcome:      auditdomain.OutcomeFailure,
		Reason:       failureReason(apperr.As(err)),
	})
}

func (s *Service) recordClientFailure(ctx context.Context, action, clientID string, err error) {
	s.record(ctx, auditdomain.Event{
		ActorType:    auditcontext.ActorClient,
		ActorID:      clientID,
		Action:       action,
		ResourceType: "oauth_client",
		ResourceID:   clientID,
		Outcome:      auditdomain.OutcomeFailure,
		Reason:       apperr.As(err).Code,
	})
}

func (s *Service) record(ctx context.Context, event auditdomain.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, event)
}
