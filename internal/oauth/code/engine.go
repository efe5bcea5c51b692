// Package code issues and redeems single-use authorization codes bound to a
// client, a redirect URI and a PKCE challenge.
package code

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railgate/internal/apperr"
	"github.com/smallbiznis/railgate/internal/auth/scope"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/pkce"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	codeBytes                = 32
	defaultCodeTTL           = 10 * time.Minute
	defaultMaxVerifyFailures = 3
)

// Failure reasons. They are logged, never returned to clients.
const (
	ReasonUnknown          = "unknown"
	ReasonExpired          = "expired"
	ReasonConsumed         = "consumed"
	ReasonClientMismatch   = "client_mismatch"
	ReasonRedirectMismatch = "redirect_mismatch"
	ReasonPKCEMismatch     = "pkce_mismatch"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	Store    Store
	Registry clientdomain.Registry
}

type Engine struct {
	log          *zap.Logger
	clock        clock.Clock
	store        Store
	registry     clientdomain.Registry
	ttl          time.Duration
	maxFailures  int
	storeTimeout time.Duration
}

type CreateRequest struct {
	Client              *clientdomain.OAuthClient
	UserID              snowflake.ID
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Issued carries the raw code. It is handed to the user agent once and
// never stored.
type Issued struct {
	Code      string
	ExpiresAt time.Time
	Scope     scope.Set
}

// Binding is what the token request presents alongside the code.
type Binding struct {
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

func NewEngine(p Params) *Engine {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	ttl := p.Config.OAuth.CodeTTL
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	maxFailures := p.Config.OAuth.MaxVerifyFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxVerifyFailures
	}
	return &Engine{
		log:          p.Log.Named("oauth.code"),
		clock:        clk,
		store:        p.Store,
		registry:     p.Registry,
		ttl:          ttl,
		maxFailures:  maxFailures,
		storeTimeout: p.Config.StoreTimeout,
	}
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// Create re-validates the request against the client registration and
// persists a fresh code.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Issued, error) {
	client := req.Client
	if client == nil || !client.Active {
		return nil, apperr.ErrInvalidClient
	}
	if req.UserID == 0 {
		return nil, apperr.ErrInvalidRequest.WithReason("missing user")
	}
	if !e.registry.ValidateRedirectURI(client, req.RedirectURI) {
		return nil, apperr.ErrInvalidRequest.WithDescription("redirect_uri is not registered for this client")
	}
	if !e.registry.AllowsGrant(client, clientdomain.GrantAuthorizationCode) {
		return nil, apperr.ErrUnauthorizedClient
	}
	granted, err := e.registry.ValidateScope(client, req.Scope)
	if err != nil {
		return nil, apperr.ErrInvalidScope
	}

	var challenge, method *string
	switch {
	case req.CodeChallenge != "" || req.CodeChallengeMethod != "":
		if err := pkce.ValidateChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
			return nil, apperr.ErrInvalidRequest.WithDescription(err.Error())
		}
		c, m := req.CodeChallenge, req.CodeChallengeMethod
		if m == "" {
			m = pkce.MethodS256
		}
		challenge, method = &c, &m
	case e.registry.RequiresPKCE(client):
		return nil, apperr.ErrInvalidRequest.WithDescription(pkce.ErrMissingChallenge.Error())
	}

	raw, err := newCode()
	if err != nil {
		return nil, apperr.Internal(err, "generate code")
	}

	now := e.clock.Now()
	record := &AuthorizationCode{
		CodeHash:            HashCode(raw),
		ClientID:            client.ClientID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               granted.String(),
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(e.ttl),
		CreatedAt:           now,
	}

	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.Create(storeCtx, record); err != nil {
		return nil, apperr.Internal(err, "persist authorization code")
	}

	return &Issued{Code: raw, ExpiresAt: record.ExpiresAt, Scope: granted}, nil
}

// FindAndConsume redeems a code exactly once. A binding or PKCE mismatch
// does not consume the code; it counts towards the failure limit instead.
func (e *Engine) FindAndConsume(ctx context.Context, rawCode string, binding Binding) (*AuthorizationCode, error) {
	if rawCode == "" {
		return nil, e.reject(ReasonUnknown, binding.ClientID)
	}
	codeHash := HashCode(rawCode)

	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()

	record, err := e.store.Get(storeCtx, codeHash)
	if errors.Is(err, errCodeNotFound) {
		return nil, e.reject(ReasonUnknown, binding.ClientID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load authorization code")
	}

	now := e.clock.Now()
	if record.Consumed {
		return nil, e.reject(ReasonConsumed, binding.ClientID)
	}
	if !now.Before(record.ExpiresAt) {
		return nil, e.reject(ReasonExpired, binding.ClientID)
	}

	if reason := checkBinding(record, binding); reason != "" {
		burned, err := e.store.RecordVerificationFailure(storeCtx, codeHash, e.maxFailures, now)
		if err != nil {
			e.log.Warn("failed to record code verification failure", zap.Error(err))
		}
		if burned {
			e.log.Warn("authorization code burned after repeated verification failures",
				zap.String("client_id", record.ClientID),
			)
		}
		return nil, e.reject(reason, binding.ClientID)
	}

	ok, err := e.store.Consume(storeCtx, codeHash, now)
	if err != nil {
		return nil, apperr.Internal(err, "consume authorization code")
	}
	if !ok {
		return nil, e.reject(ReasonConsumed, binding.ClientID)
	}

	record.Consumed = true
	record.ConsumedAt = &now
	return record, nil
}

func (e *Engine) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.PurgeExpired(storeCtx, before)
}

func (e *Engine) reject(reason, clientID string) error {
	e.log.Info("authorization code rejected",
		zap.String("reason", reason),
		zap.String("client_id", clientID),
	)
	return apperr.Grant(reason)
}

func checkBinding(record *AuthorizationCode, binding Binding) string {
	if record.ClientID != binding.ClientID {
		return ReasonClientMismatch
	}
	if record.RedirectURI != binding.RedirectURI {
		return ReasonRedirectMismatch
	}
	if record.CodeChallenge == nil {
		// a verifier for a code issued without a challenge is a downgrade attempt
		if binding.CodeVerifier != "" {
			return ReasonPKCEMismatch
		}
		return ""
	}
	if !pkce.ValidVerifier(binding.CodeVerifier) || !pkce.Verify(binding.CodeVerifier, *record.CodeChallenge) {
		return ReasonPKCEMismatch
	}
	return ""
}

// HashCode returns the storage key for a raw code.
func HashCode(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
