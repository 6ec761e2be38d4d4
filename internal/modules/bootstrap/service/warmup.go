package service

import (
	"context"
	"sync/atomic"

	"bot_engine/internal/models"
	"bot_engine/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// History: источник закрытий свечей (REST OKX).
type History interface {
	Closes(ctx context.Context, instrument, timeframe string, limit int) ([]models.PricePoint, error)
}

// Market: агрегатор, знает подписанные инструменты и принимает историю.
type Market interface {
	Instruments() []string
	Backfill(instrument string, points []models.PricePoint) int
}

type Deployer interface {
	Deploy(ctx context.Context, cfg models.StrategyConfig) (models.BotInstance, error)
}

type Config struct {
	Timeframe string
	Limit     int
	Workers   int
}

type Bootstrapper struct {
	history  History
	market   Market
	deployer Deployer
	cfg      Config
}

func NewBootstrapper(history History, market Market, deployer Deployer, cfg Config) *Bootstrapper {
	if cfg.Workers <= 0 {
		// ограничитель параллелизма, чтобы не словить rate limit
		cfg.Workers = 4
	}
	return &Bootstrapper{history: history, market: market, deployer: deployer, cfg: cfg}
}

// DeployPresets разворачивает включённые стратегии. Ошибка одной не мешает остальным.
func (b *Bootstrapper) DeployPresets(ctx context.Context, presets []models.StrategyConfig) []models.BotInstance {
	var out []models.BotInstance
	for _, cfg := range presets {
		if !cfg.Enabled {
			logger.Info("[BOOT] preset %q disabled, skipped", cfg.Name)
			continue
		}
		bot, err := b.deployer.Deploy(ctx, cfg)
		if err != nil {
			logger.Error("[BOOT] deploy %q: %v", cfg.Name, err)
			continue
		}
		out = append(out, bot)
	}
	return out
}

// Warmup подкладывает историю цен всем подписанным инструментам.
// Возвращает число добавленных точек.
func (b *Bootstrapper) Warmup(ctx context.Context) int {
	instruments := b.market.Instruments()
	if len(instruments) == 0 || b.cfg.Limit <= 0 {
		return 0
	}

	var total atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for _, inst := range instruments {
		inst := inst
		g.Go(func() error {
			points, err := b.history.Closes(ctx, inst, b.cfg.Timeframe, b.cfg.Limit)
			if err != nil {
				logger.Warn("[BOOT] warmup %s: %v", inst, err)
				return nil
			}
			n := b.market.Backfill(inst, points)
			total.Add(int64(n))
			logger.Debug("[BOOT] warmup %s: %d points", inst, n)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("[BOOT] warmup done: instruments=%d points=%d", len(instruments), total.Load())
	return int(total.Load())
}
