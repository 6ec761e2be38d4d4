package telegram

import (
	"context"

	"bot_engine/internal/modules/config"
	"bot_engine/internal/notify"
	"bot_engine/internal/runner"
	"bot_engine/pkg/logger"

	"go.uber.org/fx"
)

// NewNotifier: Telegram при заданных token и chat_id, иначе уведомления уходят в лог.
func NewNotifier(cfg *config.Config) (runner.Notifier, *notify.Telegram) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return notify.NewStdout(), nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("[TG] init failed, notifications go to log: %v", err)
		return notify.NewStdout(), nil
	}
	return tg, tg
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(NewNotifier),
		fx.Invoke(func(lc fx.Lifecycle, tg *notify.Telegram, o *runner.Orchestrator) {
			if tg == nil {
				return
			}
			tg.SetController(o)
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					tg.Start(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					tg.Stop()
					return nil
				},
			})
		}),
	)
}
