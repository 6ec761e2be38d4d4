package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bot_engine/internal/modules/api"
	"bot_engine/internal/modules/bootstrap"
	"bot_engine/internal/modules/config"
	"bot_engine/internal/modules/health"
	"bot_engine/internal/modules/ledger"
	"bot_engine/internal/modules/market"
	"bot_engine/internal/modules/okx_client"
	"bot_engine/internal/modules/okx_websocket"
	"bot_engine/internal/modules/storage"
	"bot_engine/internal/modules/strategy"
	telegram "bot_engine/internal/modules/telegram_bot"
	"bot_engine/internal/runner"
	"bot_engine/pkg/logger"
	"bot_engine/pkg/tracing"

	"go.uber.org/fx"
)

const serviceName = "bot_engine"

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatal("config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		logger.Fatal("logger: %v", err)
	}
	defer logger.Sync()
	logger.SetServiceName(serviceName)

	if cfg.Tracing.Enabled {
		tracing.SetServiceName(serviceName)
		_, closeTracer, err := tracing.InitTracer(tracing.Config{
			Host:       cfg.Tracing.Host,
			Port:       cfg.Tracing.Port,
			SampleRate: cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Error("tracing disabled: %v", err)
		} else {
			defer closeTracer()
		}
	}

	app := fx.New(
		config.Module(cfg),
		fx.NopLogger,
		okx_websocket.Module(),
		market.Module(),
		okx_client.Module(),
		ledger.Module(),
		strategy.Module(),
		storage.Module(),
		telegram.Module(),
		runner.Module(),
		api.Module(),
		health.Module(),
		bootstrap.Module(),
	)

	if err := app.Start(context.Background()); err != nil {
		logger.Fatal("start: %v", err)
	}
	logger.Info("bot engine started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Error("stop: %v", err)
	}
}
