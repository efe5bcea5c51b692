// Package domain holds the role based access control model: users hold
// roles, roles hold permissions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Description string       `gorm:"type:text" json:"description,omitempty"`
	Active      bool         `gorm:"not null" json:"active"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (Role) TableName() string { return "roles" }

type Permission struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Description string       `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (Permission) TableName() string { return "permissions" }

type UserRole struct {
	UserID    snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	RoleID    snowflake.ID `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (UserRole) TableName() string { return "user_roles" }

type RolePermission struct {
	RoleID       snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	PermissionID snowflake.ID `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt    time.Time    `gorm:"not null"`
}

func (RolePermission) TableName() string { return "role_permissions" }
