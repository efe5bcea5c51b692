package oauth

import (
	"github.com/smallbiznis/railgate/internal/oauth/code"
	"github.com/smallbiznis/railgate/internal/oauth/token"
	"go.uber.org/fx"
)

var Module = fx.Module("oauth",
	code.Module,
	token.Module,
	fx.Provide(NewConsentStore),
	fx.Provide(NewService),
	fx.Provide(NewHandler),
	fx.Provide(NewHousekeeper),
	fx.Invoke(startHousekeeping),
)
