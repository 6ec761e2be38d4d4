package ledger

import (
	"bot_engine/internal/modules/config"
	"bot_engine/internal/modules/ledger/service"
	market "bot_engine/internal/modules/market/service"
	okx "bot_engine/internal/modules/okx_client/service"
	"bot_engine/pkg/logger"

	"go.uber.org/fx"
)

// Ledgers: paper всегда есть, live только при заданных ключах биржи.
type Ledgers struct {
	Paper *service.Ledger
	Live  *service.Ledger
}

func NewLedgers(cfg *config.Config, agg *market.Aggregator, client *okx.Client) Ledgers {
	out := Ledgers{Paper: service.NewPaper(agg, service.Options{})}
	if cfg.OKX.APIKey == "" {
		logger.Warn("[LEDGER] okx api key is empty, live bots will trade on paper")
		return out
	}
	out.Live = service.NewLive(client, agg, service.Options{OrderTimeout: cfg.OKX.OrderTimeout})
	return out
}

func Module() fx.Option {
	return fx.Module("ledger",
		fx.Provide(NewLedgers),
	)
}
