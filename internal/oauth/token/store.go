package token

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var errTokenNotFound = errors.New("refresh token not found")

type Store interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Rotate revokes a live token with reason "rotated". It reports false
	// when the token was already revoked or has expired.
	Rotate(ctx context.Context, id snowflake.ID, now time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID snowflake.ID, reason string, now time.Time) (int64, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
	// Transaction runs fn against a store bound to a single transaction.
	Transaction(ctx context.Context, fn func(Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, token *RefreshToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *gormStore) GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var token RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *gormStore) Rotate(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL AND expires_at > ?", id, now).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": RevokedRotated,
			"rotated_at":     now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (s *gormStore) RevokeFamily(ctx context.Context, familyID snowflake.ID, reason string, now time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	return tx.RowsAffected, tx.Error
}

func (s *gormStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&RefreshToken{})
	return tx.RowsAffected, tx.Error
}

func (s *gormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}
