package service

import (
	"context"
	"time"

	"bot_engine/internal/models"
	"bot_engine/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Postgres зеркалит стратегии, ботов и сделки в базу.
type Postgres struct {
	db db.TxManager
}

func NewPostgres(tx db.TxManager) *Postgres {
	return &Postgres{db: tx}
}

// Migrate создаёт таблицы, если их ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Conn().Exec(ctx, schema)
	return errors.Wrap(err, "Postgres.Migrate")
}

func (p *Postgres) SaveStrategy(ctx context.Context, cfg models.StrategyConfig) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Postgres.SaveStrategy")
		}
	}()

	data, err := sonic.Marshal(cfg)
	if err != nil {
		return err
	}
	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, upsertStrategy,
			cfg.ID, cfg.Name, string(cfg.Type), string(cfg.Mode), data, cfg.CreatedAt, cfg.UpdatedAt)
		return err
	})
}

func (p *Postgres) SaveBot(ctx context.Context, bot models.BotInstance) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Postgres.SaveBot")
		}
	}()

	perf, err := sonic.Marshal(bot.Performance)
	if err != nil {
		return err
	}
	positions := bot.Positions
	if positions == nil {
		positions = []models.Position{}
	}
	pos, err := sonic.Marshal(positions)
	if err != nil {
		return err
	}
	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, upsertBot,
			bot.ID, bot.StrategyID, string(bot.Status), string(bot.Mode),
			bot.ErrorCount, bot.ConsecutiveErrors, bot.LastError,
			perf, pos, bot.StartedAt, nullTime(bot.LastTradeAt))
		return err
	})
}

func (p *Postgres) SaveTrade(ctx context.Context, t models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Postgres.SaveTrade")
		}
	}()

	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, insertTrade,
			t.ID, t.PositionID, t.BotID, t.StrategyID, t.Instrument, string(t.Side), string(t.Mode),
			t.EntryPrice, t.ExitPrice, t.Size, t.Pnl, t.PnlPercent, t.HoldTime.Milliseconds(),
			t.Reason, t.OpenedAt, t.ClosedAt)
		return err
	})
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
