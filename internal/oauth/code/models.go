package code

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AuthorizationCode stores an issued code. Only the SHA-256 of the raw code
// is persisted.
type AuthorizationCode struct {
	CodeHash             string       `gorm:"column:code_hash;type:text;primaryKey"`
	ClientID             string       `gorm:"column:client_id;type:text;not null;index"`
	UserID               snowflake.ID `gorm:"column:user_id;not null;index"`
	RedirectURI          string       `gorm:"column:redirect_uri;type:text;not null"`
	Scope                string       `gorm:"column:scope;type:text;not null"`
	CodeChallenge        *string      `gorm:"column:code_challenge;type:text"`
	CodeChallengeMethod  *string      `gorm:"column:code_challenge_method;type:text"`
	ExpiresAt            time.Time    `gorm:"column:expires_at;not null;index"`
	Consumed             bool         `gorm:"column:consumed;not null"`
	ConsumedAt           *time.Time   `gorm:"column:consumed_at"`
	VerificationFailures int          `gorm:"column:verification_failures;not null"`
	CreatedAt            time.Time    `gorm:"column:created_at;not null"`
}

func (AuthorizationCode) TableName() string { return "oauth_authorization_codes" }
