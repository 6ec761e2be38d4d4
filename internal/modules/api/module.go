package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"bot_engine/internal/modules/api/service"
	"bot_engine/internal/modules/config"
	"bot_engine/internal/runner"
	"bot_engine/pkg/logger"

	"go.uber.org/fx"
)

func NewHandler(o *runner.Orchestrator) *service.Handler {
	return service.NewHandler(o)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, h *service.Handler) {
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           service.NewRouter(h, cfg.Log.Level == "debug"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("[API] listening on %s", addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module поднимает control API: развёртывание ботов, статусы, позиции, сделки.
func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(NewHandler),
		fx.Invoke(RunHTTP),
	)
}
