package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*SessionContext, error)
	SetActive(ctx context.Context, userID snowflake.ID, active bool) error
	FindByID(ctx context.Context, userID snowflake.ID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// PermissionInvalidator is notified when a user's standing changes so cached
// permission sets are dropped before the change is acknowledged.
type PermissionInvalidator interface {
	Invalidate(userID snowflake.ID)
}

type CreateUserRequest struct {
	Username string
	Password string
	Active   *bool
}

type LoginRequest struct {
	Username  string
	Password  string
	UserAgent string
	IPAddress string
}

type LoginResult struct {
	Session   SessionContext
	RawToken  string
	ExpiresAt time.Time
}
