package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Resolver answers "what may this user do" and owns every mutation that
// could change the answer, so cache eviction happens before the mutation
// is acknowledged.
type Resolver interface {
	EffectivePermissions(ctx context.Context, userID snowflake.ID) ([]string, error)
	HasPermission(ctx context.Context, userID snowflake.ID, permission string) (bool, error)

	AssignRole(ctx context.Context, userID snowflake.ID, roleName string) error
	RevokeRole(ctx context.Context, userID snowflake.ID, roleName string) error
	GrantPermission(ctx context.Context, roleName, permissionName string) error
	RevokePermission(ctx context.Context, roleName, permissionName string) error
	SetRoleActive(ctx context.Context, roleName string, active bool) error
	Invalidate(userID snowflake.ID)

	CreateRole(ctx context.Context, name, description string) (*Role, error)
	CreatePermission(ctx context.Context, name, description string) (*Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	RolesForUser(ctx context.Context, userID snowflake.ID) ([]Role, error)
}
