package rbac

import (
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/rbac/domain"
	"github.com/smallbiznis/railgate/internal/rbac/repository"
	"github.com/smallbiznis/railgate/internal/rbac/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rbac",
	fx.Provide(repository.New),
	fx.Provide(service.NewResolver),
	fx.Provide(
		func(r *service.Resolver) domain.Resolver { return r },
		func(r *service.Resolver) authdomain.PermissionInvalidator { return r },
	),
)
