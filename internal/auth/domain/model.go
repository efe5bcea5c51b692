// Package domain contains core types for the identity service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User represents a resource owner account.
type User struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	Username         string       `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash     string       `gorm:"type:text;not null"`
	Active           bool         `gorm:"column:active;not null"`
	FailedLoginCount int          `gorm:"column:failed_login_count;not null;default:0"`
	LockedUntil      *time.Time   `gorm:"column:locked_until"`
	LastLoginAt      *time.Time   `gorm:"column:last_login_at"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// IsLocked reports whether the lockout window is still running at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Session represents a persisted login session.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:text;not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

// SessionContext is the authenticated principal threaded explicitly through
// the request pipeline.
type SessionContext struct {
	SessionID snowflake.ID
	UserID    snowflake.ID
	Username  string
	ExpiresAt time.Time
	// Renewed is set when Authenticate slid the expiry forward and the
	// cookie should be reissued.
	Renewed bool
}

// UserView is the admin API representation of a user.
type UserView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Active      bool       `json:"active"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (u *User) View() UserView {
	return UserView{
		ID:          u.ID.String(),
		Username:    u.Username,
		Active:      u.Active,
		LockedUntil: u.LockedUntil,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}
