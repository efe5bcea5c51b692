package domain

import (
	"context"

	"github.com/smallbiznis/railgate/internal/auth/scope"
)

type Registry interface {
	// Authenticate checks client credentials. Every failure is ErrInvalidClient.
	Authenticate(ctx context.Context, clientID, clientSecret string) (*OAuthClient, error)
	// Lookup returns an active client without verifying credentials.
	Lookup(ctx context.Context, clientID string) (*OAuthClient, error)
	ValidateRedirectURI(client *OAuthClient, uri string) bool
	ValidateScope(client *OAuthClient, requested string) (scope.Set, error)
	RequiresPKCE(client *OAuthClient) bool
	AllowsGrant(client *OAuthClient, grantType string) bool

	Register(ctx context.Context, req RegisterRequest) (*OAuthClient, string, error)
	Deactivate(ctx context.Context, clientID string) error
	List(ctx context.Context) ([]OAuthClient, error)
}

type RegisterRequest struct {
	ClientID       string
	Name           string
	Type           ClientType
	RedirectURIs   []string
	Scopes         []string
	GrantTypes     []string
	RequireConsent bool
	// Secret is optional for confidential clients; one is generated when
	// empty.
	Secret string
}
