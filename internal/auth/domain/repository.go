package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// IsActive is the live status check. It must never be served from a cache.
	IsActive(ctx context.Context, id snowflake.ID) (bool, error)
	SetActive(ctx context.Context, id snowflake.ID, active bool, now time.Time) error

	// RecordLoginFailure atomically bumps the failure counter and, once it
	// reaches maxFailures, locks the account until lockUntil.
	RecordLoginFailure(ctx context.Context, id snowflake.ID, maxFailures int, lockUntil time.Time) error
	// ClearExpiredLock resets the counter when a previous lock has run out.
	ClearExpiredLock(ctx context.Context, id snowflake.ID, now time.Time) error
	// RecordLoginSuccess clears failure state. A non-empty rehashed value
	// replaces the stored password hash in the same update.
	RecordLoginSuccess(ctx context.Context, id snowflake.ID, now time.Time, rehashed string) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	TouchSession(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time, expiresAt time.Time) error
	RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error
	RevokeUserSessions(ctx context.Context, userID snowflake.ID, revokedAt time.Time) error
}
