package service

import (
	"context"
	"testing"
	"time"

	"bot_engine/internal/models"
	"bot_engine/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

// fakeTx перехватывает Exec, остальные методы pgx.Tx не нужны.
type fakeTx struct {
	pgx.Tx
	calls *[]execCall
	err   error
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	*f.calls = append(*f.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.err
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row         { return nil }

type fakeTxManager struct {
	calls []execCall
	err   error
}

func (m *fakeTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, &fakeTx{calls: &m.calls, err: m.err})
}

func (m *fakeTxManager) Conn() db.Transaction {
	return &fakeTx{calls: &m.calls, err: m.err}
}

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	cfg := models.StrategyConfig{ID: "s1", Name: "x", Pairs: []string{"BTC"}}
	require.NoError(t, m.SaveStrategy(ctx, cfg))
	cfg.Pairs[0] = "ETH"
	got, ok := m.Strategy("s1")
	require.True(t, ok)
	assert.Equal(t, []string{"BTC"}, got.Pairs)

	require.NoError(t, m.SaveBot(ctx, models.BotInstance{ID: "b1", Status: models.BotRunning}))
	require.NoError(t, m.SaveBot(ctx, models.BotInstance{ID: "b1", Status: models.BotPaused}))
	b, ok := m.Bot("b1")
	require.True(t, ok)
	assert.Equal(t, models.BotPaused, b.Status)

	tr := models.Trade{ID: "t1", BotID: "b1", Pnl: 1}
	require.NoError(t, m.SaveTrade(ctx, tr))
	require.NoError(t, m.SaveTrade(ctx, tr))
	require.NoError(t, m.SaveTrade(ctx, models.Trade{ID: "t2", BotID: "b2"}))
	assert.Len(t, m.Trades("b1"), 1)
	assert.Empty(t, m.Trades("nope"))
}

func TestPostgresSaveStrategy(t *testing.T) {
	tx := &fakeTxManager{}
	p := NewPostgres(tx)

	cfg := models.StrategyConfig{
		ID: "s1", Name: "imb", Type: models.StrategyOrderBookImbalance, Mode: models.ModePaper,
		Pairs: []string{"BTC"}, PositionSize: 100, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, p.SaveStrategy(context.Background(), cfg))
	require.Len(t, tx.calls, 1)

	call := tx.calls[0]
	assert.Equal(t, upsertStrategy, call.sql)
	assert.Equal(t, "s1", call.args[0])
	assert.Equal(t, "orderbook_imbalance", call.args[2])

	var decoded models.StrategyConfig
	require.NoError(t, sonic.Unmarshal(call.args[4].([]byte), &decoded))
	assert.Equal(t, []string{"BTC"}, decoded.Pairs)
	assert.Equal(t, 100.0, decoded.PositionSize)
}

func TestPostgresSaveBotAndTrade(t *testing.T) {
	tx := &fakeTxManager{}
	p := NewPostgres(tx)
	ctx := context.Background()

	require.NoError(t, p.SaveBot(ctx, models.BotInstance{
		ID: "b1", StrategyID: "s1", Status: models.BotError, Mode: models.ModeLive,
		ErrorCount: 5, ConsecutiveErrors: 5, LastError: "boom", StartedAt: t0,
	}))
	require.Len(t, tx.calls, 1)
	args := tx.calls[0].args
	assert.Equal(t, "error", args[2])
	assert.Equal(t, []byte("[]"), args[8])
	assert.Nil(t, args[10])

	require.NoError(t, p.SaveTrade(ctx, models.Trade{
		ID: "t1", BotID: "b1", Side: models.SideBuy, HoldTime: 3 * time.Minute, OpenedAt: t0, ClosedAt: t0.Add(3 * time.Minute),
	}))
	require.Len(t, tx.calls, 2)
	assert.Equal(t, insertTrade, tx.calls[1].sql)
	assert.Equal(t, int64(180000), tx.calls[1].args[12])
}

func TestPostgresWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	p := NewPostgres(&fakeTxManager{err: boom})

	err := p.SaveTrade(context.Background(), models.Trade{ID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Postgres.SaveTrade")

	assert.ErrorIs(t, p.Migrate(context.Background()), boom)
}
