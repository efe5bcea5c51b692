package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railgate/internal/auth/scope"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errConsentNotFound = errors.New("consent not found")

// ConsentGrant records the scopes a user approved for a client. Later
// authorizations covered by the grant skip the consent screen.
type ConsentGrant struct {
	UserID    snowflake.ID `gorm:"column:user_id;primaryKey"`
	ClientID  string       `gorm:"column:client_id;type:varchar(128);primaryKey"`
	Scopes    []string     `gorm:"column:scopes;serializer:json;not null"`
	CreatedAt time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt time.Time    `gorm:"column:updated_at;not null"`
}

func (ConsentGrant) TableName() string { return "oauth_consent_grants" }

// Covers reports whether every requested scope was already approved.
func (g *ConsentGrant) Covers(requested scope.Set) bool {
	if g == nil {
		return false
	}
	return requested.SubsetOf(scope.FromList(g.Scopes))
}

type ConsentStore interface {
	Find(ctx context.Context, userID snowflake.ID, clientID string) (*ConsentGrant, error)
	// Save upserts the grant, replacing the stored scopes.
	Save(ctx context.Context, grant *ConsentGrant) error
}

type gormConsentStore struct {
	db *gorm.DB
}

func NewConsentStore(db *gorm.DB) ConsentStore {
	return &gormConsentStore{db: db}
}

func (s *gormConsentStore) Find(ctx context.Context, userID snowflake.ID, clientID string) (*ConsentGrant, error) {
	var grant ConsentGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND client_id = ?", userID, clientID).
		Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errConsentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (s *gormConsentStore) Save(ctx context.Context, grant *ConsentGrant) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "client_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"scopes", "updated_at"}),
		}).
		Create(grant).Error
}
