package strategy

import (
	market "bot_engine/internal/modules/market/service"
	"bot_engine/internal/modules/strategy/service"

	"go.uber.org/fx"
)

func NewFactory(agg *market.Aggregator) *service.Factory {
	return service.NewFactory(service.Deps{Market: agg})
}

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(NewFactory),
	)
}
