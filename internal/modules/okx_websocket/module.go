package okx_websocket

import (
	"context"

	"bot_engine/internal/modules/config"
	"bot_engine/internal/modules/okx_websocket/service"

	"go.uber.org/fx"
)

func NewFeed(cfg *config.Config) *service.Feed {
	return service.NewFeed(service.Config{
		URL:          cfg.Market.WSURL,
		InstSuffix:   cfg.Market.InstSuffix,
		PingInterval: cfg.Market.PingInterval,
	})
}

func NewHistory(cfg *config.Config) *service.History {
	return service.NewHistory(cfg.OKX.BaseURL, cfg.Market.InstSuffix)
}

// Module поднимает публичный WebSocket OKX и REST-историю свечей.
func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(
			NewFeed,
			NewHistory,
		),
		fx.Invoke(func(lc fx.Lifecycle, feed *service.Feed) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						feed.Run(ctx)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
