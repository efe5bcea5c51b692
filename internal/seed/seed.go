// Package seed provisions the permissions, role and admin account the
// admin API depends on. Every step is idempotent.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/railgate/internal/auditcontext"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/authorization"
	"github.com/smallbiznis/railgate/internal/config"
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const AdminRole = "admin"

type builtin struct {
	name        string
	description string
	admin       bool
}

var builtins = []builtin{
	{authorization.PermissionRBACAdmin, "manage roles and permissions", true},
	{authorization.PermissionClientsAdmin, "manage OAuth clients", true},
	{authorization.PermissionUsersAdmin, "manage user accounts", true},
	{authorization.PermissionAuditRead, "read the audit log", true},
	{"read", "read access for resource servers", false},
	{"write", "write access for resource servers", false},
}

var Module = fx.Module("seed",
	fx.Invoke(func(p Params) error {
		return Run(context.Background(), p)
	}),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Resolver rbacdomain.Resolver
	Users    authdomain.Service
}

func Run(ctx context.Context, p Params) error {
	log := p.Log.Named("seed")
	ctx = auditcontext.WithActor(ctx, auditcontext.ActorSystem, "bootstrap")

	for _, b := range builtins {
		if _, err := p.Resolver.CreatePermission(ctx, b.name, b.description); err != nil && !errors.Is(err, rbacdomain.ErrPermissionExists) {
			return err
		}
	}
	if _, err := p.Resolver.CreateRole(ctx, AdminRole, "full access to the admin API"); err != nil && !errors.Is(err, rbacdomain.ErrRoleExists) {
		return err
	}
	for _, b := range builtins {
		if !b.admin {
			continue
		}
		if err := p.Resolver.GrantPermission(ctx, AdminRole, b.name); err != nil {
			return err
		}
	}

	username := strings.TrimSpace(p.Config.Bootstrap.AdminUsername)
	if username == "" || p.Config.Bootstrap.AdminPassword == "" {
		return nil
	}

	user, err := p.Users.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, authdomain.ErrUserNotFound):
		user, err = p.Users.CreateUser(ctx, authdomain.CreateUserRequest{
			Username: username,
			Password: p.Config.Bootstrap.AdminPassword,
		})
		if err != nil {
			return err
		}
		log.Info("bootstrap admin created", zap.String("username", user.Username))
	case err != nil:
		return err
	}
	return p.Resolver.AssignRole(ctx, user.ID, AdminRole)
}
