package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railgate/internal/auth/password"
	"github.com/smallbiznis/railgate/internal/auth/scope"
	"github.com/smallbiznis/railgate/internal/cache"
	"github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const clientSecretBytes = 32

type Params struct {
	fx.In

	Log    *zap.Logger
	Config config.Config
	Clock  clock.Clock
	Repo   domain.Repository
	GenID  *snowflake.Node
}

type Service struct {
	log          *zap.Logger
	repo         domain.Repository
	genID        *snowflake.Node
	clock        clock.Clock
	cache        cache.Cache[string, domain.OAuthClient]
	cacheTTL     time.Duration
	pkceAll      bool
	storeTimeout time.Duration
}

func New(p Params) domain.Registry {
	return NewService(p)
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:          p.Log.Named("client.registry"),
		repo:         p.Repo,
		genID:        p.GenID,
		clock:        clk,
		cache:        cache.NewTTLCache[string, domain.OAuthClient](cache.WithNow(clk.Now)),
		cacheTTL:     p.Config.OAuth.ClientCacheTTL,
		pkceAll:      p.Config.OAuth.RequirePKCEAll,
		storeTimeout: p.Config.StoreTimeout,
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) load(ctx context.Context, clientID string) (*domain.OAuthClient, error) {
	if c, ok := s.cache.Get(clientID); ok {
		return &c, nil
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	client, err := s.repo.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(clientID, *client, s.cacheTTL)
	return client, nil
}

func (s *Service) Lookup(ctx context.Context, clientID string) (*domain.OAuthClient, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, domain.ErrInvalidClient
	}
	client, err := s.load(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrClientNotFound) {
			return nil, domain.ErrInvalidClient
		}
		return nil, err
	}
	if !client.Active {
		return nil, domain.ErrInvalidClient
	}
	return client, nil
}

// Authenticate verifies the client. Unknown ids still pay for a secret
// verification so response timing does not reveal which ids exist.
func (s *Service) Authenticate(ctx context.Context, clientID, clientSecret string) (*domain.OAuthClient, error) {
	client, err := s.Lookup(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidClient) && clientSecret != "" {
			password.VerifyDummy(clientSecret)
		}
		return nil, err
	}

	if client.IsPublic() {
		if clientSecret != "" {
			return nil, domain.ErrInvalidClient
		}
		return client, nil
	}

	if client.SecretHash == nil || clientSecret == "" {
		password.VerifyDummy(clientSecret)
		return nil, domain.ErrInvalidClient
	}
	if !password.Verify(clientSecret, *client.SecretHash) {
		return nil, domain.ErrInvalidClient
	}
	return client, nil
}

// ValidateRedirectURI is an exact string match against the registered set.
// URIs carrying a fragment are never accepted.
func (s *Service) ValidateRedirectURI(client *domain.OAuthClient, uri string) bool {
	if client == nil || uri == "" || strings.Contains(uri, "#") {
		return false
	}
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ValidateScope requires a non-empty request whose every token is allowed
// for the client.
func (s *Service) ValidateScope(client *domain.OAuthClient, requested string) (scope.Set, error) {
	if client == nil {
		return nil, domain.ErrInvalidScope
	}
	set, err := scope.Parse(requested)
	if err != nil || set.Empty() {
		return nil, domain.ErrInvalidScope
	}
	if !set.SubsetOf(scope.FromList(client.AllowedScopes)) {
		return nil, domain.ErrInvalidScope
	}
	return set, nil
}

func (s *Service) RequiresPKCE(client *domain.OAuthClient) bool {
	if client == nil {
		return true
	}
	return s.pkceAll || client.IsPublic()
}

func (s *Service) AllowsGrant(client *domain.OAuthClient, grantType string) bool {
	if client == nil {
		return false
	}
	if grantType == domain.GrantClientCredentials && client.IsPublic() {
		return false
	}
	for _, g := range client.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// Register creates a client and returns the plaintext secret for
// confidential clients. The secret is never retrievable afterwards.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.OAuthClient, string, error) {
	client, secret, err := s.build(req)
	if err != nil {
		return nil, "", err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.Create(storeCtx, client); err != nil {
		return nil, "", err
	}
	s.cache.Delete(client.ClientID)

	s.log.Info("client registered",
		zap.String("client_id", client.ClientID),
		zap.String("client_type", string(client.Type)),
	)
	return client, secret, nil
}

func (s *Service) Deactivate(ctx context.Context, clientID string) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.SetActive(storeCtx, clientID, false); err != nil {
		return err
	}
	s.cache.Delete(clientID)
	return nil
}

func (s *Service) List(ctx context.Context) ([]domain.OAuthClient, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.List(storeCtx)
}

func (s *Service) build(req domain.RegisterRequest) (*domain.OAuthClient, string, error) {
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, "", domain.ErrInvalidClient
	}
	if req.Type != domain.TypePublic && req.Type != domain.TypeConfidential {
		return nil, "", domain.ErrInvalidClientType
	}
	for _, uri := range req.RedirectURIs {
		if !acceptableRedirectURI(uri) {
			return nil, "", domain.ErrInvalidRedirectURI
		}
	}
	scopes, err := scope.Parse(strings.Join(req.Scopes, " "))
	if err != nil {
		return nil, "", domain.ErrInvalidScope
	}
	grants, err := normalizeGrants(req.Type, req.GrantTypes)
	if err != nil {
		return nil, "", err
	}
	for _, g := range grants {
		if g == domain.GrantAuthorizationCode && len(req.RedirectURIs) == 0 {
			return nil, "", domain.ErrInvalidRedirectURI
		}
	}

	now := s.clock.Now()
	client := &domain.OAuthClient{
		ID:             s.genID.Generate(),
		ClientID:       clientID,
		Name:           strings.TrimSpace(req.Name),
		Type:           req.Type,
		RedirectURIs:   append([]string{}, req.RedirectURIs...),
		AllowedScopes:  scopes,
		GrantTypes:     grants,
		RequireConsent: req.RequireConsent,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if client.Name == "" {
		client.Name = clientID
	}

	var secret string
	if req.Type == domain.TypeConfidential {
		secret = req.Secret
		if secret == "" {
			secret, err = newClientSecret()
			if err != nil {
				return nil, "", err
			}
		}
		hashed, err := password.Hash(secret)
		if err != nil {
			return nil, "", err
		}
		client.SecretHash = &hashed
	}
	return client, secret, nil
}

func normalizeGrants(clientType domain.ClientType, requested []string) ([]string, error) {
	if len(requested) == 0 {
		if clientType == domain.TypePublic {
			return []string{domain.GrantAuthorizationCode, domain.GrantRefreshToken}, nil
		}
		return []string{domain.GrantAuthorizationCode, domain.GrantRefreshToken, domain.GrantClientCredentials}, nil
	}
	out := make([]string, 0, len(requested))
	seen := map[string]struct{}{}
	for _, g := range requested {
		g = strings.TrimSpace(g)
		switch g {
		case domain.GrantAuthorizationCode, domain.GrantRefreshToken:
		case domain.GrantClientCredentials:
			if clientType == domain.TypePublic {
				return nil, domain.ErrInvalidGrantType
			}
		default:
			return nil, domain.ErrInvalidGrantType
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out, nil
}

// acceptableRedirectURI enforces absolute URIs without fragments; plain
// http is limited to loopback hosts.
func acceptableRedirectURI(raw string) bool {
	if raw == "" || strings.Contains(raw, "#") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return false
	}
	switch u.Scheme {
	case "https":
		return u.Host != ""
	case "http":
		host := u.Hostname()
		if host == "localhost" {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	default:
		// private-use schemes for native apps (RFC 8252 section 7.1)
		return strings.Contains(u.Scheme, ".")
	}
}

func newClientSecret() (string, error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
