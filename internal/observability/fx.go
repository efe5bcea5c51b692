package observability

import (
	"github.com/smallbiznis/railgate/internal/observability/logger"
	"github.com/smallbiznis/railgate/internal/observability/metrics"
	"github.com/smallbiznis/railgate/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(cfg Config) logger.Config {
			return logger.Config{
				ServiceName:  cfg.ServiceName,
				Environment:  cfg.Environment,
				Version:      cfg.Version,
				Level:        cfg.Telemetry.LogLevel,
				Format:       cfg.Telemetry.LogFormat,
				StackOnError: cfg.Debug(),
			}
		},
		logger.New,
		func(cfg Config) logger.GormLoggerConfig {
			gc := logger.DefaultGormLoggerConfig()
			gc.SlowThreshold = cfg.Telemetry.SlowQuery
			if cfg.Telemetry.LogQueries {
				gc.Level = gormlogger.Info
			}
			return gc
		},
		func(cfg Config) tracing.Config {
			return tracing.Config{
				Enabled:          cfg.Telemetry.OtelEnabled,
				ServiceName:      cfg.ServiceName,
				ServiceVersion:   cfg.Version,
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.Telemetry.OtelEndpoint,
				ExporterProtocol: cfg.Telemetry.OtelProtocol,
				SamplingRatio:    cfg.Telemetry.OtelSamplingRatio,
			}
		},
		tracing.NewProvider,
		func(cfg Config) metrics.Config {
			return metrics.Config{
				Enabled:          cfg.Telemetry.OtelEnabled,
				ExporterEndpoint: cfg.Telemetry.OtelEndpoint,
				ExporterProtocol: cfg.Telemetry.OtelProtocol,
				ServiceName:      cfg.ServiceName,
				Environment:      cfg.Environment,
			}
		},
		metrics.NewProvider,
		metrics.New,
	),
	// the tracer provider has no consumers but must be built for otel.SetTracerProvider
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
