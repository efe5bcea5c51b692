package domain

import "context"

type Repository interface {
	Create(ctx context.Context, client *OAuthClient) error
	Save(ctx context.Context, client *OAuthClient) error
	FindByClientID(ctx context.Context, clientID string) (*OAuthClient, error)
	List(ctx context.Context) ([]OAuthClient, error)
	SetActive(ctx context.Context, clientID string, active bool) error
}
