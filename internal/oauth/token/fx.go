package token

import (
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("oauth.token",
	fx.Provide(NewStore),
	fx.Provide(NewKeySet),
	fx.Provide(NewRevocationList),
	fx.Provide(func(r rbacdomain.Resolver) PermissionSource { return r }),
	fx.Provide(NewEngine),
)
