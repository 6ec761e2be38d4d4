package runner

import (
	"context"

	"bot_engine/internal/modules/config"
	health "bot_engine/internal/modules/health/service"
	"bot_engine/internal/modules/ledger"
	strategy "bot_engine/internal/modules/strategy/service"

	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Config   *config.Config
	Factory  *strategy.Factory
	Ledgers  ledger.Ledgers
	Store    Store
	Notifier Notifier
	State    *health.State
}

func NewOrchestrator(p Params) *Orchestrator {
	deps := Deps{
		Factory:  p.Factory,
		Paper:    p.Ledgers.Paper,
		Store:    p.Store,
		Notifier: p.Notifier,
	}
	if p.Ledgers.Live != nil {
		deps.Live = p.Ledgers.Live
	}
	return New(deps, Options{
		TickInterval:         p.Config.Engine.TickInterval,
		MaxConsecutiveErrors: p.Config.Engine.MaxConsecutiveErrors,
		SignalWorkers:        p.Config.Engine.SignalWorkers,
		OnTick:               p.State.TouchTick,
	})
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(NewOrchestrator),
		fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						o.Run(ctx)
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
