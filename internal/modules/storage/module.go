package storage

import (
	"context"
	"time"

	"bot_engine/internal/modules/config"
	"bot_engine/internal/modules/storage/service"
	"bot_engine/internal/runner"
	"bot_engine/pkg/db"
	"bot_engine/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

const connectTimeout = 10 * time.Second

// NewStore отдаёт Postgres, если задан db_dsn, иначе хранилище в памяти.
func NewStore(lc fx.Lifecycle, cfg *config.Config) (runner.Store, error) {
	if cfg.DB == "" {
		logger.Warn("[STORE] db_dsn is empty, state is kept in memory only")
		return service.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create poolMaster")
	}
	if err = poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	tx := db.NewPgTxManager(poolMaster)
	store := service.NewPostgres(tx)
	if err = store.Migrate(ctx); err != nil {
		tx.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	logger.Info("[STORE] postgres connected")
	return store, nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(NewStore),
	)
}
