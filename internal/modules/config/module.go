package config

import "go.uber.org/fx"

// Module отдаёт уже загруженный конфиг: он нужен до fx для логгера и трейсинга.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
