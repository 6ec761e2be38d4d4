package okx_client

import (
	"bot_engine/internal/modules/config"
	"bot_engine/internal/modules/okx_client/service"

	"go.uber.org/fx"
)

func NewClient(cfg *config.Config) *service.Client {
	return service.NewClient(service.Config{
		BaseURL:    cfg.OKX.BaseURL,
		APIKey:     cfg.OKX.APIKey,
		APISecret:  cfg.OKX.APISecret,
		Passphrase: cfg.OKX.Passphrase,
		TdMode:     cfg.OKX.TdMode,
		InstSuffix: cfg.Market.InstSuffix,
		RateLimit:  cfg.OKX.RateLimit,
		RateBurst:  cfg.OKX.RateBurst,
	})
}

// Module: приватный REST OKX для live-исполнения.
func Module() fx.Option {
	return fx.Module("okx_client",
		fx.Provide(NewClient),
	)
}
