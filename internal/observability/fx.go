// Package observability wires the optional metrics pipeline.
package observability

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/memberly/internal/config"
	"github.com/smallbiznis/memberly/internal/observability/metrics"
)

var Module = fx.Module("observability",
	fx.Provide(
		func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*metrics.Metrics, error) {
			provider, err := metrics.NewMeterProvider(context.Background(), cfg)
			if err != nil {
				return nil, err
			}
			if provider == nil {
				return nil, nil
			}
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return provider.Shutdown(ctx)
				},
			})
			log.Info("metrics exporter enabled",
				zap.String("exporter", cfg.MetricsExporter),
				zap.String("endpoint", cfg.OTLPEndpoint),
			)
			return metrics.New(provider)
		},
	),
)
