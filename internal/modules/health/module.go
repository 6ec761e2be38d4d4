package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"bot_engine/internal/modules/config"
	"bot_engine/internal/modules/health/service"
	okxws "bot_engine/internal/modules/okx_websocket/service"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

func NewMux(state *service.State) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// готов, когда стартовал, держит фид и тики не зависли
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Report(time.Now()).Serving() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		b, err := sonic.Marshal(state.Report(time.Now()))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux, state *service.State) {
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return srv.Shutdown(ctx)
		},
	})
}

// NewState: тик считается зависшим после десяти пропущенных интервалов.
func NewState(cfg *config.Config) *service.State {
	return service.NewState(10 * cfg.Engine.TickInterval)
}

// WatchFeed переносит состояние соединения фида в health.
func WatchFeed(feed *okxws.Feed, state *service.State) {
	feed.OnStateChange(state.SetFeedConnected)
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			NewState,
			NewMux,
		),
		fx.Invoke(WatchFeed, RunHTTP),
	)
}
