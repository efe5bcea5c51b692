// Package token signs access tokens and manages rotating refresh tokens.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/auth/scope"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TokenTypeBearer = "Bearer"

	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"

	refreshTokenBytes      = 32
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Failure reasons for refresh. Logged only.
const (
	ReasonUnknown        = "unknown"
	ReasonClientMismatch = "client_mismatch"
	ReasonRevoked        = "revoked"
	ReasonExpired        = "expired"
	ReasonScopeWidened   = "scope_widened"
	ReasonUserInactive   = "user_inactive"
	ReasonAlreadyRotated = "already_rotated"
)

var ErrInvalidAccessToken = errors.New("invalid access token")

// PermissionSource supplies the permission claim at refresh time.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID snowflake.ID) ([]string, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Clock       clock.Clock
	GenID       *snowflake.Node
	Store       Store
	Keys        *KeySet
	Revocations RevocationList
	Users       authdomain.Repository
	Permissions PermissionSource
	Audit       auditdomain.Sink `optional:"true"`
	Metrics     *metrics.Metrics `optional:"true"`
}

type Engine struct {
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	store        Store
	keys         *KeySet
	revocations  RevocationList
	users        authdomain.Repository
	permissions  PermissionSource
	audit        auditdomain.Sink
	metrics      *metrics.Metrics
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	revokeFamily bool
	storeTimeout time.Duration
}

type IssueRequest struct {
	Client      *clientdomain.OAuthClient
	User        *Subject
	GrantType   string
	Scope       scope.Set
	Permissions []string
	// FamilyID and ParentID are set when issuing a rotated successor.
	FamilyID snowflake.ID
	ParentID *snowflake.ID
}

type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	// Scope may narrow the original grant. Empty keeps it unchanged.
	Scope string
}

func NewEngine(p Params) *Engine {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	accessTTL := p.Config.OAuth.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTokenTTL
	}
	refreshTTL := p.Config.OAuth.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}
	return &Engine{
		log:          p.Log.Named("oauth.token"),
		clock:        clk,
		genID:        p.GenID,
		store:        p.Store,
		keys:         p.Keys,
		revocations:  p.Revocations,
		users:        p.Users,
		permissions:  p.Permissions,
		audit:        p.Audit,
		metrics:      p.Metrics,
		issuer:       p.Config.Issuer,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		revokeFamily: p.Config.OAuth.RevokeFamilyOnReuse,
		storeTimeout: p.Config.StoreTimeout,
	}
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// Issue signs an access token and, for user grants, persists a new
// refresh token.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*TokenPair, error) {
	pair, refresh, err := e.mint(req)
	if err != nil {
		return nil, err
	}
	if refresh != nil {
		storeCtx, cancel := e.storeCtx(ctx)
		defer cancel()
		if err := e.store.Create(storeCtx, refresh); err != nil {
			return nil, apperr.Internal(err, "persist refresh token")
		}
	}
	e.metrics.RecordTokenIssued(ctx, req.GrantType)
	return pair, nil
}

// mint builds the pair without touching the store.
func (e *Engine) mint(req IssueRequest) (*TokenPair, *RefreshToken, error) {
	if req.Client == nil {
		return nil, nil, apperr.ErrInvalidClient
	}
	now := e.clock.Now()
	expiresAt := now.Add(e.accessTTL)
	jti := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	claims := Claims{
		Claims: jwt.Claims{
			Issuer:    e.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		ClientID:    req.Client.ClientID,
		Scope:       req.Scope.String(),
		Permissions: req.Permissions,
		TokenUse:    tokenUseAccess,
	}
	if req.User != nil {
		claims.Subject = req.User.Username
		claims.UserID = req.User.ID.String()
	} else {
		claims.Subject = req.Client.ClientID
	}

	signed, err := jwt.Signed(e.keys.Signer()).Claims(claims).Serialize()
	if err != nil {
		return nil, nil, apperr.Internal(err, "sign access token")
	}

	pair := &TokenPair{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(e.accessTTL / time.Second),
		Scope:       claims.Scope,
		ExpiresAt:   expiresAt,
		JTI:         jti,
	}

	if req.User == nil || !grantsRefresh(req.GrantType) {
		return pair, nil, nil
	}

	raw, err := newRefreshValue()
	if err != nil {
		return nil, nil, apperr.Internal(err, "generate refresh token")
	}
	id := e.genID.Generate()
	family := req.FamilyID
	if family == 0 {
		family = id
	}
	refresh := &RefreshToken{
		ID:        id,
		TokenHash: HashToken(raw),
		FamilyID:  family,
		ParentID:  req.ParentID,
		ClientID:  req.Client.ClientID,
		UserID:    req.User.ID,
		Scope:     claims.Scope,
		ExpiresAt: now.Add(e.refreshTTL),
		CreatedAt: now,
	}
	pair.RefreshToken = raw
	return pair, refresh, nil
}

func grantsRefresh(grantType string) bool {
	return grantType == clientdomain.GrantAuthorizationCode || grantType == clientdomain.GrantRefreshToken
}

// Refresh rotates a refresh token. The predecessor is revoked and the
// successor inserted in one transaction guarded by a conditional update, so
// a token can be redeemed at most once even under concurrent requests.
func (e *Engine) Refresh(ctx context.Context, client *clientdomain.OAuthClient, req RefreshRequest) (*TokenPair, error) {
	if client == nil {
		return nil, apperr.ErrInvalidClient
	}
	if req.RefreshToken == "" {
		return nil, e.reject(ReasonUnknown, client.ClientID)
	}

	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()

	old, err := e.store.GetByHash(storeCtx, HashToken(req.RefreshToken))
	if errors.Is(err, errTokenNotFound) {
		return nil, e.reject(ReasonUnknown, client.ClientID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load refresh token")
	}
	if old.ClientID != client.ClientID {
		return nil, e.reject(ReasonClientMismatch, client.ClientID)
	}

	now := e.clock.Now()
	if old.RevokedAt != nil {
		if old.RevokedReason != nil && *old.RevokedReason == RevokedRotated {
			e.handleReuse(ctx, old)
		}
		return nil, e.reject(ReasonRevoked, client.ClientID)
	}
	if !now.Before(old.ExpiresAt) {
		return nil, e.reject(ReasonExpired, client.ClientID)
	}

	original, _ := scope.Parse(old.Scope)
	granted := original
	if strings.TrimSpace(req.Scope) != "" {
		requested, err := scope.Parse(req.Scope)
		if err != nil || requested.Empty() || !requested.SubsetOf(original) {
			return nil, apperr.ErrInvalidScope.WithReason(ReasonScopeWidened)
		}
		granted = requested
	}

	user, err := e.users.FindByID(storeCtx, old.UserID)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		return nil, e.reject(ReasonUserInactive, client.ClientID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load token subject")
	}
	if !user.Active {
		return nil, e.reject(ReasonUserInactive, client.ClientID)
	}
	perms, err := e.permissions.EffectivePermissions(storeCtx, user.ID)
	if err != nil {
		return nil, apperr.Internal(err, "resolve permissions")
	}

	parentID := old.ID
	pair, successor, err := e.mint(IssueRequest{
		Client:      client,
		User:        &Subject{ID: user.ID, Username: user.Username},
		GrantType:   clientdomain.GrantRefreshToken,
		Scope:       granted,
		Permissions: perms,
		FamilyID:    old.FamilyID,
		ParentID:    &parentID,
	})
	if err != nil {
		return nil, err
	}

	err = e.store.Transaction(storeCtx, func(tx Store) error {
		ok, err := tx.Rotate(storeCtx, old.ID, now)
		if err != nil {
			return apperr.Internal(err, "rotate refresh token")
		}
		if !ok {
			return e.reject(ReasonAlreadyRotated, client.ClientID)
		}
		if err := tx.Create(storeCtx, successor); err != nil {
			return apperr.Internal(err, "persist refresh token")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordTokenIssued(ctx, clientdomain.GrantRefreshToken)
	return pair, nil
}

// handleReuse revokes the whole family when a rotated token comes back.
func (e *Engine) handleReuse(ctx context.Context, old *RefreshToken) {
	e.log.Warn("refresh token reuse detected",
		zap.String("client_id", old.ClientID),
		zap.String("family_id", old.FamilyID.String()),
	)
	if !e.revokeFamily {
		return
	}
	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	n, err := e.store.RevokeFamily(storeCtx, old.FamilyID, RevokedReuseDetected, e.clock.Now())
	if err != nil {
		e.log.Error("failed to revoke token family", zap.Error(err))
	}
	if e.audit != nil {
		e.audit.Record(ctx, auditdomain.Event{
			Action:       auditdomain.ActionRefreshReuseDetected,
			ResourceType: "refresh_token_family",
			ResourceID:   old.FamilyID.String(),
			Outcome:      auditdomain.OutcomeDenied,
			Reason:       RevokedReuseDetected,
			Metadata: map[string]any{
				"client_id":      old.ClientID,
				"user_id":        old.UserID.String(),
				"revoked_tokens": n,
			},
		})
	}
}

// Revoke never reports whether the token existed. Tokens belonging to
// another client are left alone.
func (e *Engine) Revoke(ctx context.Context, raw, hint, clientID string) error {
	if raw == "" {
		return nil
	}
	if hint == HintRefreshToken {
		if done, err := e.revokeRefresh(ctx, raw, clientID); done || err != nil {
			return err
		}
		_, err := e.revokeAccess(ctx, raw, clientID)
		return err
	}
	if done, err := e.revokeAccess(ctx, raw, clientID); done || err != nil {
		return err
	}
	_, err := e.revokeRefresh(ctx, raw, clientID)
	return err
}

func (e *Engine) revokeRefresh(ctx context.Context, raw, clientID string) (bool, error) {
	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	record, err := e.store.GetByHash(storeCtx, HashToken(raw))
	if errors.Is(err, errTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Internal(err, "load refresh token")
	}
	if record.ClientID != clientID {
		e.log.Info("revocation for foreign token ignored", zap.String("client_id", clientID))
		return true, nil
	}
	if _, err := e.store.RevokeFamily(storeCtx, record.FamilyID, RevokedByClient, e.clock.Now()); err != nil {
		return false, apperr.Internal(err, "revoke refresh token")
	}
	return true, nil
}

func (e *Engine) revokeAccess(ctx context.Context, raw, clientID string) (bool, error) {
	claims, err := e.verify(raw)
	if err != nil {
		return false, nil
	}
	if claims.ClientID != clientID {
		e.log.Info("revocation for foreign token ignored", zap.String("client_id", clientID))
		return true, nil
	}
	remaining := claims.Expiry.Time().Sub(e.clock.Now())
	if remaining <= 0 {
		return true, nil
	}
	if err := e.revocations.Revoke(ctx, claims.ID, remaining); err != nil {
		return false, apperr.Internal(err, "record access token revocation")
	}
	return true, nil
}

// Introspect reports whether a token is currently usable. Any failure
// collapses to {active: false}.
func (e *Engine) Introspect(ctx context.Context, raw, hint string) Introspection {
	if raw == "" {
		return Introspection{}
	}
	if hint == HintRefreshToken {
		if res, ok := e.introspectRefresh(ctx, raw); ok {
			return res
		}
		res, _ := e.introspectAccess(ctx, raw)
		return res
	}
	if res, ok := e.introspectAccess(ctx, raw); ok {
		return res
	}
	res, _ := e.introspectRefresh(ctx, raw)
	return res
}

func (e *Engine) introspectAccess(ctx context.Context, raw string) (Introspection, bool) {
	claims, err := e.ParseAccessToken(ctx, raw)
	if err != nil {
		return Introspection{}, false
	}
	return Introspection{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		Username:  usernameOf(claims),
		TokenType: TokenTypeBearer,
		Exp:       claims.Expiry.Time().Unix(),
		Iat:       claims.IssuedAt.Time().Unix(),
		Sub:       claims.Subject,
		Iss:       claims.Issuer,
		JTI:       claims.ID,
	}, true
}

func usernameOf(c *Claims) string {
	if c.UserID == "" {
		return ""
	}
	return c.Subject
}

func (e *Engine) introspectRefresh(ctx context.Context, raw string) (Introspection, bool) {
	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	record, err := e.store.GetByHash(storeCtx, HashToken(raw))
	if err != nil {
		return Introspection{}, false
	}
	if record.RevokedAt != nil || !e.clock.Now().Before(record.ExpiresAt) {
		return Introspection{}, false
	}
	user, err := e.users.FindByID(storeCtx, record.UserID)
	if err != nil || !user.Active {
		return Introspection{}, false
	}
	return Introspection{
		Active:    true,
		Scope:     record.Scope,
		ClientID:  record.ClientID,
		Username:  user.Username,
		TokenType: HintRefreshToken,
		Exp:       record.ExpiresAt.Unix(),
		Iat:       record.CreatedAt.Unix(),
		Sub:       user.Username,
		Iss:       e.issuer,
	}, true
}

// ParseAccessToken verifies signature, issuer, lifetime and revocation. For
// user tokens the subject must still be active.
func (e *Engine) ParseAccessToken(ctx context.Context, raw string) (*Claims, error) {
	claims, err := e.verify(raw)
	if err != nil {
		return nil, err
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Issuer: e.issuer, Time: e.clock.Now()}, 0); err != nil {
		return nil, ErrInvalidAccessToken
	}

	revoked, err := e.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Internal(err, "check revocation list")
	}
	if revoked {
		return nil, ErrInvalidAccessToken
	}

	if claims.UserID != "" {
		userID, err := snowflake.ParseString(claims.UserID)
		if err != nil {
			return nil, ErrInvalidAccessToken
		}
		storeCtx, cancel := e.storeCtx(ctx)
		defer cancel()
		active, err := e.users.IsActive(storeCtx, userID)
		if err != nil || !active {
			return nil, ErrInvalidAccessToken
		}
	}
	return claims, nil
}

// verify checks the signature and token type only.
func (e *Engine) verify(raw string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{SigningAlgorithm})
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].KeyID != e.keys.KeyID() {
		return nil, ErrInvalidAccessToken
	}
	var claims Claims
	if err := parsed.Claims(e.keys.PublicKey(), &claims); err != nil {
		return nil, ErrInvalidAccessToken
	}
	if claims.TokenUse != tokenUseAccess || claims.ID == "" || claims.Expiry == nil {
		return nil, ErrInvalidAccessToken
	}
	return &claims, nil
}

func (e *Engine) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	storeCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.PurgeExpired(storeCtx, before)
}

func (e *Engine) JWKS() jose.JSONWebKeySet {
	return e.keys.JWKS()
}

func (e *Engine) reject(reason, clientID string) error {
	e.log.Info("refresh token rejected",
		zap.String("reason", reason),
		zap.String("client_id", clientID),
	)
	return apperr.Grant(reason)
}

// HashToken returns the storage key for a raw refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRefreshValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
