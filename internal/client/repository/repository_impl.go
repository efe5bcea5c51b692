package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) Create(ctx context.Context, client *domain.OAuthClient) error {
	err := r.db.WithContext(ctx).Create(client).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrClientExists
	}
	return err
}

func (r *repo) Save(ctx context.Context, client *domain.OAuthClient) error {
	return r.db.WithContext(ctx).Save(client).Error
}

func (r *repo) FindByClientID(ctx context.Context, clientID string) (*domain.OAuthClient, error) {
	var client domain.OAuthClient
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *repo) List(ctx context.Context) ([]domain.OAuthClient, error) {
	var clients []domain.OAuthClient
	err := r.db.WithContext(ctx).Order("client_id ASC").Find(&clients).Error
	return clients, err
}

func (r *repo) SetActive(ctx context.Context, clientID string, active bool) error {
	tx := r.db.WithContext(ctx).
		Model(&domain.OAuthClient{}).
		Where("client_id = ?", clientID).
		Update("active", active)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}
