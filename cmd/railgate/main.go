package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railgate/internal/audit"
	"github.com/smallbiznis/railgate/internal/auth"
	"github.com/smallbiznis/railgate/internal/auth/local"
	"github.com/smallbiznis/railgate/internal/auth/session"
	"github.com/smallbiznis/railgate/internal/authorization"
	"github.com/smallbiznis/railgate/internal/cache"
	"github.com/smallbiznis/railgate/internal/client"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/migration"
	"github.com/smallbiznis/railgate/internal/oauth"
	"github.com/smallbiznis/railgate/internal/observability"
	"github.com/smallbiznis/railgate/internal/ratelimit"
	"github.com/smallbiznis/railgate/internal/rbac"
	"github.com/smallbiznis/railgate/internal/seed"
	"github.com/smallbiznis/railgate/internal/server"
	"github.com/smallbiznis/railgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,

		// Functional Domains
		audit.Module,
		auth.Module,
		session.Module,
		local.Module,
		rbac.Module,
		authorization.Module,
		client.Module,
		ratelimit.Module,
		oauth.Module,
		seed.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
