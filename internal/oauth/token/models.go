package token

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RevokedRotated       = "rotated"
	RevokedByClient      = "revoked"
	RevokedReuseDetected = "reuse_detected"
)

// RefreshToken is the persisted half of a token pair. Tokens issued from the
// same authorization share a FamilyID; ParentID links a rotated successor to
// its predecessor.
type RefreshToken struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	TokenHash     string        `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	FamilyID      snowflake.ID  `gorm:"column:family_id;not null;index"`
	ParentID      *snowflake.ID `gorm:"column:parent_id"`
	ClientID      string        `gorm:"column:client_id;type:text;not null;index"`
	UserID        snowflake.ID  `gorm:"column:user_id;not null;index"`
	Scope         string        `gorm:"column:scope;type:text;not null"`
	ExpiresAt     time.Time     `gorm:"column:expires_at;not null;index"`
	RevokedAt     *time.Time    `gorm:"column:revoked_at"`
	RevokedReason *string       `gorm:"column:revoked_reason;type:text"`
	RotatedAt     *time.Time    `gorm:"column:rotated_at"`
	CreatedAt     time.Time     `gorm:"column:created_at;not null"`
}

func (RefreshToken) TableName() string { return "oauth_refresh_tokens" }

// Subject identifies the resource owner a token acts for.
type Subject struct {
	ID       snowflake.ID
	Username string
}

// TokenPair is the token endpoint response body.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"-"`
	JTI          string    `json:"-"`
}

// Introspection is the RFC 7662 response. Inactive tokens carry only
// Active=false.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Iss       string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}
