package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	CreateRole(ctx context.Context, role *Role) error
	CreatePermission(ctx context.Context, perm *Permission) error
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	FindPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	SetRoleActive(ctx context.Context, roleID snowflake.ID, active bool, now time.Time) error

	// AssignRole and GrantPermission are idempotent.
	AssignRole(ctx context.Context, userID, roleID snowflake.ID, now time.Time) error
	RevokeRole(ctx context.Context, userID, roleID snowflake.ID) error
	GrantPermission(ctx context.Context, roleID, permissionID snowflake.ID, now time.Time) error
	RevokePermission(ctx context.Context, roleID, permissionID snowflake.ID) error

	RolesForUser(ctx context.Context, userID snowflake.ID) ([]Role, error)
	// PermissionNamesForUser returns the distinct, sorted permission names
	// granted through the user's active roles.
	PermissionNamesForUser(ctx context.Context, userID snowflake.ID) ([]string, error)
}
