package market

import (
	"bot_engine/internal/modules/config"
	"bot_engine/internal/modules/market/service"
	okxws "bot_engine/internal/modules/okx_websocket/service"

	"go.uber.org/fx"
)

func NewAggregator(cfg *config.Config, feed *okxws.Feed) *service.Aggregator {
	return service.NewAggregator(feed, service.Options{
		PriceMaxAge:     cfg.Market.PriceMaxAge,
		PriceMaxSamples: cfg.Market.PriceMaxSamples,
		TradeMaxSamples: cfg.Market.TradeMaxSamples,
	})
}

func Module() fx.Option {
	return fx.Module("market",
		fx.Provide(NewAggregator),
	)
}
