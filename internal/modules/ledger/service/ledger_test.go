package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"bot_engine/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakePrices struct {
	mu sync.Mutex
	px map[string]float64
}

func newFakePrices() *fakePrices { return &fakePrices{px: map[string]float64{}} }

func (p *fakePrices) Set(instrument string, px float64) {
	p.mu.Lock()
	p.px[instrument] = px
	p.mu.Unlock()
}

func (p *fakePrices) CurrentPrice(instrument string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.px[instrument]
	if !ok {
		return 0, errors.Wrap(models.ErrDataUnavailable, instrument)
	}
	return px, nil
}

type fakeExecutor struct {
	mu        sync.Mutex
	connected bool
	place     func(req OrderRequest) (Fill, error)
	status    func(clientID string) (Fill, error)
	requests  []OrderRequest
}

func (e *fakeExecutor) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *fakeExecutor) PlaceOrder(_ context.Context, req OrderRequest) (Fill, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	place := e.place
	e.mu.Unlock()
	return place(req)
}

func (e *fakeExecutor) OrderStatus(_ context.Context, _ string, clientID string) (Fill, error) {
	e.mu.Lock()
	status := e.status
	e.mu.Unlock()
	if status == nil {
		return Fill{}, models.ErrOrderNotFound
	}
	return status(clientID)
}

func filledAt(px float64) func(req OrderRequest) (Fill, error) {
	return func(req OrderRequest) (Fill, error) {
		return Fill{ClientOrderID: req.ClientOrderID, State: OrderFilled, AvgPrice: px, FilledSize: req.Size}, nil
	}
}

func ethBuy(size float64) OpenRequest {
	return OpenRequest{
		BotID:             "bot-1",
		StrategyID:        "s-1",
		Instrument:        "ETH",
		Side:              models.SideBuy,
		Size:              size,
		StopLossPercent:   0.3,
		TakeProfitPercent: 0.6,
	}
}

func newPaper(t *testing.T) (*Ledger, *fakePrices, *time.Time) {
	t.Helper()
	now := t0
	prices := newFakePrices()
	l := NewPaper(prices, Options{Now: func() time.Time { return now }})
	return l, prices, &now
}

func TestPaperStopLossClose(t *testing.T) {
	l, prices, now := newPaper(t)
	prices.Set("ETH", 2000)

	pos, err := l.OpenPosition(context.Background(), ethBuy(1.0))
	require.NoError(t, err)
	assert.Equal(t, 2000.0, pos.EntryPrice)
	assert.InDelta(t, 1994.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 2012.0, pos.TakeProfit, 1e-9)
	assert.Equal(t, models.ModePaper, pos.Mode)

	*now = t0.Add(3 * time.Minute)
	prices.Set("ETH", 1993)
	trades, err := l.UpdatePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)

	tr := trades[0]
	assert.Equal(t, models.ReasonStopLoss, tr.Reason)
	assert.Equal(t, 1993.0, tr.ExitPrice)
	assert.InDelta(t, -7.0, tr.Pnl, 1e-9)
	assert.InDelta(t, -0.35, tr.PnlPercent, 1e-9)
	assert.Equal(t, 3*time.Minute, tr.HoldTime)
	assert.Equal(t, pos.ID, tr.PositionID)

	assert.Empty(t, l.BotPositions("bot-1"))
	assert.Len(t, l.BotTrades("bot-1"), 1)
	assert.False(t, l.HasPosition("bot-1", "ETH"))
}

func TestUpdateMarksUnrealizedPnl(t *testing.T) {
	l, prices, _ := newPaper(t)
	prices.Set("ETH", 2000)
	_, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.NoError(t, err)

	prices.Set("ETH", 2004)
	trades, err := l.UpdatePositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades)

	open := l.BotPositions("bot-1")
	require.Len(t, open, 1)
	assert.Equal(t, 2004.0, open[0].CurrentPrice)
	assert.InDelta(t, 0.2, open[0].UnrealizedPnl, 1e-9)
}

func TestStopLossCheckedBeforeTakeProfit(t *testing.T) {
	l, prices, _ := newPaper(t)
	prices.Set("ETH", 2000)
	pos, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.NoError(t, err)

	// оба уровня выполняются одновременно
	l.mu.Lock()
	l.positions[pos.ID].StopLoss = 2100
	l.positions[pos.ID].TakeProfit = 1900
	l.mu.Unlock()

	trades, err := l.UpdatePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ReasonStopLoss, trades[0].Reason)
}

func TestSellTakeProfit(t *testing.T) {
	l, prices, _ := newPaper(t)
	prices.Set("BTC", 50000)
	req := OpenRequest{BotID: "b", Instrument: "BTC", Side: models.SideSell, Size: 0.002, StopLossPercent: 1, TakeProfitPercent: 2}
	pos, err := l.OpenPosition(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 50500.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 49000.0, pos.TakeProfit, 1e-9)

	prices.Set("BTC", 48900)
	trades, err := l.UpdatePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ReasonTakeProfit, trades[0].Reason)
	assert.InDelta(t, 2.2, trades[0].Pnl, 1e-9)
}

func TestOpenRejectsDuplicateAndBadInput(t *testing.T) {
	l, prices, _ := newPaper(t)
	prices.Set("ETH", 2000)

	_, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.NoError(t, err)

	_, err = l.OpenPosition(context.Background(), ethBuy(0.05))
	assert.ErrorIs(t, err, models.ErrPositionExists)

	_, err = l.OpenPosition(context.Background(), ethBuy(0))
	assert.Error(t, err)

	bad := ethBuy(1)
	bad.Instrument = "SOL"
	bad.Side = ""
	_, err = l.OpenPosition(context.Background(), bad)
	assert.Error(t, err)
}

func TestPaperOpenWithoutPrice(t *testing.T) {
	l, _, _ := newPaper(t)
	_, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.Error(t, err)

	var ee *models.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, models.ExecUnavailable, ee.Kind)
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
	assert.False(t, l.HasPosition("bot-1", "ETH"))
}

func TestClosePositionAndStatistics(t *testing.T) {
	l, prices, now := newPaper(t)
	ctx := context.Background()

	_, err := l.ClosePosition(ctx, "missing", "manual")
	assert.ErrorIs(t, err, models.ErrNotFound)

	empty := l.BotStatistics("bot-1")
	assert.Equal(t, models.BotStatistics{}, empty)

	prices.Set("ETH", 2000)
	pos, err := l.OpenPosition(ctx, ethBuy(0.05))
	require.NoError(t, err)
	prices.Set("ETH", 2010)
	*now = now.Add(2 * time.Minute)
	win, err := l.ClosePosition(ctx, pos.ID, "Signal reversed")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, win.Pnl, 1e-9)

	pos, err = l.OpenPosition(ctx, ethBuy(0.05))
	require.NoError(t, err)
	prices.Set("ETH", 2006)
	*now = now.Add(4 * time.Minute)
	loss, err := l.ClosePosition(ctx, pos.ID, models.ReasonBotStopped)
	require.NoError(t, err)
	assert.InDelta(t, -0.2, loss.Pnl, 1e-9)

	_, err = l.ClosePosition(ctx, pos.ID, "again")
	assert.ErrorIs(t, err, models.ErrNotFound)

	st := l.BotStatistics("bot-1")
	assert.Equal(t, 2, st.TotalTrades)
	assert.Equal(t, 1, st.WinningTrades)
	assert.Equal(t, 1, st.LosingTrades)
	assert.InDelta(t, 50.0, st.WinRate, 1e-9)
	assert.InDelta(t, 0.3, st.TotalPnl, 1e-9)
	assert.InDelta(t, 0.15, st.AvgPnl, 1e-9)
	assert.InDelta(t, 0.15, st.AvgPnlPercent, 1e-9)
	assert.Equal(t, 3*time.Minute, st.AvgHoldTime)
	assert.InDelta(t, 0.5, st.BestTrade, 1e-9)
	assert.InDelta(t, -0.2, st.WorstTrade, 1e-9)
	assert.Zero(t, st.OpenPositions)
}

func newLive(t *testing.T, exec *fakeExecutor) (*Ledger, *fakePrices) {
	t.Helper()
	prices := newFakePrices()
	return NewLive(exec, prices, Options{Now: func() time.Time { return t0 }, OrderTimeout: time.Second}), prices
}

func TestLiveNotConnected(t *testing.T) {
	exec := &fakeExecutor{place: filledAt(2000)}
	l, _ := newLive(t, exec)
	assert.False(t, l.Connected())
	assert.Equal(t, models.ModeLive, l.Mode())

	_, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.Error(t, err)
	var ee *models.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, models.ExecNotConnect, ee.Kind)
	assert.ErrorIs(t, err, models.ErrNotConnected)
	assert.Empty(t, exec.requests)
}

func TestLiveFillAndReduceOnlyClose(t *testing.T) {
	exec := &fakeExecutor{connected: true, place: filledAt(2001)}
	l, _ := newLive(t, exec)

	pos, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.NoError(t, err)
	assert.Equal(t, 2001.0, pos.EntryPrice)
	assert.Equal(t, models.ModeLive, pos.Mode)

	exec.place = filledAt(2005)
	tr, err := l.ClosePosition(context.Background(), pos.ID, "manual")
	require.NoError(t, err)
	assert.Equal(t, 2005.0, tr.ExitPrice)

	require.Len(t, exec.requests, 2)
	closeReq := exec.requests[1]
	assert.True(t, closeReq.ReduceOnly)
	assert.Equal(t, models.SideSell, closeReq.Side)
	assert.Equal(t, 0.05, closeReq.Size)
	assert.NotEqual(t, exec.requests[0].ClientOrderID, closeReq.ClientOrderID)
}

func TestLiveRejected(t *testing.T) {
	exec := &fakeExecutor{connected: true, place: func(req OrderRequest) (Fill, error) {
		return Fill{ClientOrderID: req.ClientOrderID, State: OrderCanceled}, nil
	}}
	l, _ := newLive(t, exec)

	_, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	var ee *models.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, models.ExecRejected, ee.Kind)
	assert.False(t, l.HasPosition("bot-1", "ETH"))
}

func TestLiveTimeoutIsReconciled(t *testing.T) {
	exec := &fakeExecutor{connected: true, place: func(OrderRequest) (Fill, error) {
		return Fill{}, context.DeadlineExceeded
	}}
	l, prices := newLive(t, exec)
	prices.Set("ETH", 2000)

	_, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.Error(t, err)
	assert.True(t, models.OutcomeUnknown(err))
	assert.True(t, l.HasPosition("bot-1", "ETH"))
	assert.Empty(t, l.BotPositions("bot-1"))
	assert.Equal(t, 1, l.BotExposure("bot-1"))
	assert.Zero(t, l.BotExposure("bot-2"))

	// повторное открытие до сверки запрещено
	_, err = l.OpenPosition(context.Background(), ethBuy(0.05))
	assert.ErrorIs(t, err, models.ErrPositionBusy)

	parked := exec.requests[0].ClientOrderID
	exec.status = func(clientID string) (Fill, error) {
		if clientID != parked {
			return Fill{}, models.ErrOrderNotFound
		}
		return Fill{ClientOrderID: clientID, State: OrderFilled, AvgPrice: 1999, FilledSize: 0.05}, nil
	}

	_, err = l.UpdatePositions(context.Background())
	require.NoError(t, err)
	open := l.BotPositions("bot-1")
	require.Len(t, open, 1)
	assert.Equal(t, 1999.0, open[0].EntryPrice)
	assert.Len(t, exec.requests, 1)
	assert.Equal(t, 1, l.BotExposure("bot-1"))
}

func TestRejectedStopLossCloseCarriesBot(t *testing.T) {
	exec := &fakeExecutor{connected: true, place: filledAt(2000)}
	l, prices := newLive(t, exec)
	prices.Set("ETH", 2000)

	pos, err := l.OpenPosition(context.Background(), ethBuy(1))
	require.NoError(t, err)

	exec.place = func(req OrderRequest) (Fill, error) {
		return Fill{}, models.NewExecutionError("close", req.Instrument, models.ExecRejected, errors.New("reduce-only rejected"))
	}
	prices.Set("ETH", 1990)

	trades, err := l.UpdatePositions(context.Background())
	assert.Empty(t, trades)
	require.Error(t, err)
	var ee *models.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "bot-1", ee.BotID)
	assert.Equal(t, models.ExecRejected, ee.Kind)

	still, ok := l.Position(pos.ID)
	require.True(t, ok)
	assert.Equal(t, 1990.0, still.CurrentPrice)
}

func TestLiveTimeoutNotFilled(t *testing.T) {
	exec := &fakeExecutor{connected: true, place: func(OrderRequest) (Fill, error) {
		return Fill{}, context.DeadlineExceeded
	}}
	l, _ := newLive(t, exec)

	_, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.Error(t, err)

	_, err = l.UpdatePositions(context.Background())
	require.NoError(t, err)
	assert.False(t, l.HasPosition("bot-1", "ETH"))
}

func TestLivePartialFills(t *testing.T) {
	exec := &fakeExecutor{connected: true, place: func(req OrderRequest) (Fill, error) {
		return Fill{ClientOrderID: req.ClientOrderID, State: OrderPartial, AvgPrice: 2000, FilledSize: 0.04}, nil
	}}
	l, _ := newLive(t, exec)

	pos, err := l.OpenPosition(context.Background(), ethBuy(0.05))
	require.NoError(t, err)
	assert.Equal(t, 0.04, pos.Size)

	exec.place = func(req OrderRequest) (Fill, error) {
		return Fill{ClientOrderID: req.ClientOrderID, State: OrderPartial, AvgPrice: 2010, FilledSize: 0.01}, nil
	}
	_, err = l.ClosePosition(context.Background(), pos.ID, "manual")
	require.Error(t, err)
	assert.True(t, models.IsExecutionError(err))

	left, ok := l.Position(pos.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.03, left.RemainingSize(), 1e-12)

	exec.place = func(req OrderRequest) (Fill, error) {
		assert.InDelta(t, 0.03, req.Size, 1e-12)
		return Fill{ClientOrderID: req.ClientOrderID, State: OrderFilled, AvgPrice: 2020, FilledSize: req.Size}, nil
	}
	tr, err := l.ClosePosition(context.Background(), pos.ID, "manual")
	require.NoError(t, err)
	assert.InDelta(t, 2017.5, tr.ExitPrice, 1e-9)
	assert.InDelta(t, 0.7, tr.Pnl, 1e-9)
}

func TestStatisticsAcrossLists(t *testing.T) {
	empty := Statistics(nil, nil)
	assert.Zero(t, empty.AvgPnlPercent)
	assert.Zero(t, empty.AvgHoldTime)
	assert.Equal(t, models.BotStatistics{}, empty)

	st := Statistics(
		[]models.Trade{
			{Pnl: -1, PnlPercent: -0.5, HoldTime: time.Minute},
			{Pnl: -3, PnlPercent: -1.5, HoldTime: 3 * time.Minute},
		},
		[]models.Position{{UnrealizedPnl: 0.5}},
	)
	assert.Equal(t, -1.0, st.AvgPnlPercent)
	assert.Equal(t, 2*time.Minute, st.AvgHoldTime)
	assert.Equal(t, -1.0, st.BestTrade)
	assert.Equal(t, -3.0, st.WorstTrade)
	assert.Equal(t, 0.0, st.WinRate)
	assert.Equal(t, 1, st.OpenPositions)
	assert.Equal(t, 0.5, st.UnrealizedPnl)
}
