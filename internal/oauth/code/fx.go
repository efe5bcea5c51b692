package code

import "go.uber.org/fx"

var Module = fx.Module("oauth.code",
	fx.Provide(NewStore),
	fx.Provide(NewEngine),
)
