package bootstrap

import (
	"context"

	bootstrap "bot_engine/internal/modules/bootstrap/service"
	"bot_engine/internal/modules/config"
	health "bot_engine/internal/modules/health/service"
	market "bot_engine/internal/modules/market/service"
	okxws "bot_engine/internal/modules/okx_websocket/service"
	"bot_engine/internal/runner"
	"bot_engine/pkg/logger"

	"go.uber.org/fx"
)

func NewBootstrapper(cfg *config.Config, history *okxws.History, agg *market.Aggregator, o *runner.Orchestrator) *bootstrap.Bootstrapper {
	return bootstrap.NewBootstrapper(history, agg, o, bootstrap.Config{
		Timeframe: cfg.Bootstrap.WarmupTimeframe,
		Limit:     cfg.Bootstrap.WarmupLimit,
		Workers:   cfg.Bootstrap.WarmupWorkers,
	})
}

// Module разворачивает стратегии из strategies_file и прогревает историю цен.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(NewBootstrapper),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, b *bootstrap.Bootstrapper, state *health.State) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if cfg.StrategiesFile != "" {
							presets, err := config.LoadStrategies(cfg.StrategiesFile)
							if err != nil {
								logger.Error("[BOOT] %v", err)
							} else {
								bots := b.DeployPresets(ctx, presets)
								logger.Info("[BOOT] deployed %d of %d presets", len(bots), len(presets))
							}
						}
						b.Warmup(ctx)
						state.SetReady(true)
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
