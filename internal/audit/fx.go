package audit

import (
	"context"

	"github.com/smallbiznis/railgate/internal/audit/domain"
	"github.com/smallbiznis/railgate/internal/audit/repository"
	"github.com/smallbiznis/railgate/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) domain.Sink { return s },
	),
	fx.Invoke(func(lc fx.Lifecycle, s *service.Service) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Close(ctx)
			},
		})
	}),
)
