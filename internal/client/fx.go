package client

import (
	"context"

	"github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/client/repository"
	"github.com/smallbiznis/railgate/internal/client/service"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("client.registry",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Registry { return s }),
	fx.Invoke(registerBootstrap),
)

func registerBootstrap(lc fx.Lifecycle, svc *service.Service, holder *config.ClientsHolder, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := svc.Apply(ctx, holder.Get()); err != nil {
				return err
			}
			holder.OnChange(func(file config.ClientsFile) {
				if err := svc.Apply(context.Background(), file); err != nil {
					log.Warn("client registry reload incomplete", zap.Error(err))
				}
			})
			return nil
		},
	})
}
