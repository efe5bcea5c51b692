package code

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var errCodeNotFound = errors.New("authorization code not found")

// Store provides persistence for authorization codes.
type Store interface {
	Create(ctx context.Context, code *AuthorizationCode) error
	Get(ctx context.Context, codeHash string) (*AuthorizationCode, error)
	// Consume flips consumed from false to true for an unexpired code. It
	// reports false when another caller got there first.
	Consume(ctx context.Context, codeHash string, now time.Time) (bool, error)
	// RecordVerificationFailure bumps the failure counter and burns the code
	// once it reaches maxFailures. It reports whether the code was burned.
	RecordVerificationFailure(ctx context.Context, codeHash string, maxFailures int, now time.Time) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, code *AuthorizationCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

func (s *gormStore) Get(ctx context.Context, codeHash string) (*AuthorizationCode, error) {
	var code AuthorizationCode
	err := s.db.WithContext(ctx).Where("code_hash = ?", codeHash).First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (s *gormStore) Consume(ctx context.Context, codeHash string, now time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).
		Model(&AuthorizationCode{}).
		Where("code_hash = ? AND consumed = ? AND expires_at > ?", codeHash, false, now).
		Updates(map[string]any{"consumed": true, "consumed_at": now})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (s *gormStore) RecordVerificationFailure(ctx context.Context, codeHash string, maxFailures int, now time.Time) (bool, error) {
	var burned bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AuthorizationCode{}).
			Where("code_hash = ? AND consumed = ?", codeHash, false).
			Update("verification_failures", gorm.Expr("verification_failures + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		res = tx.Model(&AuthorizationCode{}).
			Where("code_hash = ? AND consumed = ? AND verification_failures >= ?", codeHash, false, maxFailures).
			Updates(map[string]any{"consumed": true, "consumed_at": now})
		if res.Error != nil {
			return res.Error
		}
		burned = res.RowsAffected > 0
		return nil
	})
	return burned, err
}

func (s *gormStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&AuthorizationCode{})
	return tx.RowsAffected, tx.Error
}
