package service

import (
	"context"
	"testing"
	"time"

	"bot_engine/internal/models"
	market "bot_engine/internal/modules/market/service"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newMarket() (*market.Aggregator, *clock) {
	clk := &clock{t: t0}
	return market.NewAggregator(nil, market.Options{Now: clk.Now}), clk
}

func baseConfig(t models.StrategyType, pairs ...string) models.StrategyConfig {
	return models.StrategyConfig{
		ID:                "s-1",
		Name:              "test",
		Type:              t,
		Pairs:             pairs,
		Enabled:           true,
		Mode:              models.ModePaper,
		PositionSize:      100,
		MaxPositions:      2,
		StopLossPercent:   0.3,
		TakeProfitPercent: 0.6,
	}
}

func mustStrategy(t *testing.T, agg *market.Aggregator, clk *clock, cfg models.StrategyConfig) Strategy {
	t.Helper()
	s, err := NewFactory(Deps{Market: agg, Now: clk.Now}).New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func book(instrument string, bid, ask float64) models.OrderBook {
	return models.OrderBook{
		Instrument: instrument,
		Bids:       []models.BookLevel{{Price: 99, Size: bid}},
		Asks:       []models.BookLevel{{Price: 101, Size: ask}},
		Timestamp:  t0,
	}
}

// 20 сделок с давлением (buy-sell)/total = pressure
func pushTrades(agg *market.Aggregator, instrument string, pressure float64) {
	buy := (1 + pressure) / 2 * 20
	sell := 20 - buy
	for i := 0; i < 10; i++ {
		agg.OnTrade(models.TradeEvent{Instrument: instrument, Side: models.SideBuy, Size: buy / 10, Timestamp: t0})
		agg.OnTrade(models.TradeEvent{Instrument: instrument, Side: models.SideSell, Size: sell / 10, Timestamp: t0})
	}
}

func TestOrderBookImbalanceBuyAtThreshold(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyOrderBookImbalance, "ETH"))

	agg.OnPrice("ETH", 2000, t0)
	agg.OnOrderBook(book("ETH", 30, 10))
	pushTrades(agg, "ETH", 0.35)

	sig := s.GenerateSignal("ETH")
	assert.Equal(t, models.SignalBuy, sig.Type)
	assert.InDelta(t, 0.60, sig.Confidence, 1e-9)
	assert.Equal(t, 2000.0, sig.Price)
	assert.Equal(t, "s-1", sig.StrategyID)
	assert.Equal(t, "ETH", sig.Instrument)
	assert.Equal(t, t0, sig.Timestamp)
}

func TestOrderBookImbalanceConfidenceCapped(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyOrderBookImbalance, "ETH"))

	agg.OnPrice("ETH", 2000, t0)
	agg.OnOrderBook(book("ETH", 100, 10))
	pushTrades(agg, "ETH", 0.5)

	sig := s.GenerateSignal("ETH")
	assert.Equal(t, models.SignalBuy, sig.Type)
	assert.Equal(t, 0.95, sig.Confidence)
}

func TestOrderBookImbalanceSell(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyOrderBookImbalance, "ETH"))

	agg.OnPrice("ETH", 2000, t0)
	agg.OnOrderBook(book("ETH", 5, 20))
	pushTrades(agg, "ETH", -0.4)

	sig := s.GenerateSignal("ETH")
	assert.Equal(t, models.SignalSell, sig.Type)
	assert.GreaterOrEqual(t, sig.Confidence, 0.6)
	assert.LessOrEqual(t, sig.Confidence, 0.95)
}

func TestOrderBookImbalanceNeedsPressure(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyOrderBookImbalance, "ETH"))

	agg.OnPrice("ETH", 2000, t0)
	agg.OnOrderBook(book("ETH", 30, 10))
	pushTrades(agg, "ETH", 0.1)

	assert.Equal(t, models.SignalNone, s.GenerateSignal("ETH").Type)
}

func TestOrderBookImbalanceWithoutTradeFilter(t *testing.T) {
	agg, clk := newMarket()
	cfg := baseConfig(models.StrategyOrderBookImbalance, "ETH")
	cfg.Parameters = map[string]any{"useTradePressure": false}
	s := mustStrategy(t, agg, clk, cfg)

	agg.OnPrice("ETH", 2000, t0)
	agg.OnOrderBook(book("ETH", 30, 10))

	assert.Equal(t, models.SignalBuy, s.GenerateSignal("ETH").Type)
}

func TestMissingMetricGivesNoSignal(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyOrderBookImbalance, "ETH"))

	agg.OnPrice("ETH", 2000, t0)
	sig := s.GenerateSignal("ETH")
	assert.Equal(t, models.SignalNone, sig.Type)
	assert.Contains(t, sig.Reason, "insufficient data")
}

func TestGenerateSignalGuards(t *testing.T) {
	agg, clk := newMarket()
	cfg := baseConfig(models.StrategyOrderBookImbalance, "ETH")
	s := mustStrategy(t, agg, clk, cfg)

	agg.OnPrice("ETH", 2000, t0)
	agg.OnOrderBook(book("ETH", 30, 10))
	pushTrades(agg, "ETH", 0.5)

	assert.Equal(t, models.SignalNone, s.GenerateSignal("BTC").Type, "not in pairs")

	cfg.Enabled = false
	cfg.ID = "s-2"
	disabled := mustStrategy(t, agg, clk, cfg)
	assert.Equal(t, models.SignalNone, disabled.GenerateSignal("ETH").Type)
}

func TestInitializeCleanupLifecycle(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyCrossPairLag, "SOL", "XRP"))

	assert.True(t, agg.Subscribed("SOL"))
	assert.True(t, agg.Subscribed("XRP"))
	assert.True(t, agg.Subscribed("BTC"), "leader is subscribed too")

	require.NoError(t, s.Initialize(context.Background()))
	s.Cleanup()
	s.Cleanup()
	assert.False(t, agg.Subscribed("SOL"))
	assert.False(t, agg.Subscribed("BTC"))
}

func TestCleanupKeepsInstrumentsOfOtherStrategies(t *testing.T) {
	agg, clk := newMarket()
	a := mustStrategy(t, agg, clk, baseConfig(models.StrategyOrderBookImbalance, "ETH"))
	b := mustStrategy(t, agg, clk, baseConfig(models.StrategyOrderBookImbalance, "ETH"))

	a.Cleanup()
	assert.True(t, agg.Subscribed("ETH"))
	b.Cleanup()
	assert.False(t, agg.Subscribed("ETH"))
}

func TestCrossPairLagFollowsLeader(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyCrossPairLag, "SOL"))

	agg.OnPrice("BTC", 100000, t0)
	agg.OnPrice("SOL", 150, t0)
	agg.OnPrice("BTC", 100500, t0.Add(2*time.Second))
	agg.OnPrice("SOL", 150.1, t0.Add(2*time.Second))
	clk.t = t0.Add(2 * time.Second)

	sig := s.GenerateSignal("SOL")
	require.Equal(t, models.SignalBuy, sig.Type)
	assert.GreaterOrEqual(t, sig.Confidence, 0.6)
	assert.LessOrEqual(t, sig.Confidence, 0.95)
	assert.Equal(t, "BTC", sig.Metadata["leader"])
}

func TestCrossPairLagSellAndNoSignal(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyCrossPairLag, "SOL", "XRP"))

	agg.OnPrice("BTC", 100000, t0)
	agg.OnPrice("SOL", 150, t0)
	agg.OnPrice("XRP", 2, t0)
	agg.OnPrice("BTC", 99500, t0.Add(2*time.Second))
	agg.OnPrice("SOL", 150, t0.Add(2*time.Second))
	agg.OnPrice("XRP", 1.99, t0.Add(2*time.Second))
	clk.t = t0.Add(2 * time.Second)

	assert.Equal(t, models.SignalSell, s.GenerateSignal("SOL").Type)
	assert.Equal(t, models.SignalNone, s.GenerateSignal("XRP").Type, "follower already moved 0.5%")
}

func TestCrossPairLagSmallLeaderMove(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyCrossPairLag, "SOL"))

	agg.OnPrice("BTC", 100000, t0)
	agg.OnPrice("SOL", 150, t0)
	agg.OnPrice("BTC", 100100, t0.Add(2*time.Second))
	agg.OnPrice("SOL", 150, t0.Add(2*time.Second))
	clk.t = t0.Add(2 * time.Second)

	assert.Equal(t, models.SignalNone, s.GenerateSignal("SOL").Type)
}

// 30 минут ровной цены и сделок, затем скачок на +1% с крупной сделкой.
func seedBreakout(agg *market.Aggregator, clk *clock, instrument string) {
	for i := 0; i < 30; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		agg.OnPrice(instrument, 100, ts)
		agg.OnTrade(models.TradeEvent{Instrument: instrument, Side: models.SideBuy, Size: 1, Price: 100, Timestamp: ts})
	}
	now := t0.Add(30 * time.Minute)
	agg.OnPrice(instrument, 101, now)
	agg.OnTrade(models.TradeEvent{Instrument: instrument, Side: models.SideBuy, Size: 3, Price: 101, Timestamp: now})
	clk.t = now
}

func TestBreakoutThirtyMinuteHigh(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyMultiTimeframeBreakout, "SOL"))
	seedBreakout(agg, clk, "SOL")

	sig := s.GenerateSignal("SOL")
	require.Equal(t, models.SignalBuy, sig.Type, sig.Reason)
	assert.Equal(t, 0.9, sig.Confidence)
	assert.Equal(t, "30m0s", sig.Metadata["level"])
}

func TestBreakoutNeedsHistory(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyMultiTimeframeBreakout, "SOL"))

	agg.OnPrice("SOL", 100, t0)
	agg.OnPrice("SOL", 105, t0.Add(time.Minute))
	clk.t = t0.Add(time.Minute)

	sig := s.GenerateSignal("SOL")
	assert.Equal(t, models.SignalNone, sig.Type)
	assert.Contains(t, sig.Reason, "insufficient data")
}

func TestBreakoutVolumeGate(t *testing.T) {
	agg, clk := newMarket()
	cfg := baseConfig(models.StrategyMultiTimeframeBreakout, "SOL")
	cfg.Parameters = map[string]any{"minVolumeWeight": 10}
	s := mustStrategy(t, agg, clk, cfg)
	seedBreakout(agg, clk, "SOL")

	sig := s.GenerateSignal("SOL")
	assert.Equal(t, models.SignalNone, sig.Type)
	assert.Contains(t, sig.Reason, "volume weight")
}

func TestBreakoutExitRules(t *testing.T) {
	agg, clk := newMarket()
	s := mustStrategy(t, agg, clk, baseConfig(models.StrategyMultiTimeframeBreakout, "SOL"))
	adv, ok := s.(ExitAdvisor)
	require.True(t, ok)

	pos := models.Position{Instrument: "SOL", Side: models.SideBuy, EntryPrice: 100, Size: 1, OpenedAt: t0}

	reason, exit := adv.ShouldExit(pos, 100.9, t0.Add(time.Minute))
	assert.True(t, exit)
	assert.Contains(t, reason, "Quick profit")

	reason, exit = adv.ShouldExit(pos, 98.4, t0.Add(time.Minute))
	assert.True(t, exit)
	assert.Contains(t, reason, "Emergency stop")

	reason, exit = adv.ShouldExit(pos, 100.1, t0.Add(31*time.Minute))
	assert.True(t, exit)
	assert.Equal(t, "Max hold time reached", reason)

	_, exit = adv.ShouldExit(pos, 100.1, t0.Add(time.Minute))
	assert.False(t, exit)
}

func TestValidateCollectsAllReasons(t *testing.T) {
	cfg := models.StrategyConfig{
		Type:              models.StrategyOrderBookImbalance,
		Mode:              "demo",
		StopLossPercent:   15,
		TakeProfitPercent: 0,
	}
	err := Validate(cfg)
	require.Error(t, err)

	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Reasons, "name must not be empty")
	assert.Contains(t, ve.Reasons, "at least one instrument is required")
	assert.Contains(t, ve.Reasons, "positionSize must be > 0")
	assert.Contains(t, ve.Reasons, "maxPositions must be > 0")
	assert.Contains(t, ve.Reasons, "stopLossPercent must be in (0, 10]")
	assert.Contains(t, ve.Reasons, "takeProfitPercent must be in (0, 20]")
	assert.Contains(t, ve.Reasons, `unknown mode "demo"`)
}

func TestValidateUnknownTypeAndBadParams(t *testing.T) {
	cfg := baseConfig("martingale", "BTC")
	var ve *models.ValidationError
	require.True(t, errors.As(Validate(cfg), &ve))
	assert.Equal(t, []string{`unknown strategy type "martingale"`}, ve.Reasons)

	cfg = baseConfig(models.StrategyCrossPairLag, "SOL")
	cfg.Parameters = map[string]any{"leader": "", "window": "soon"}
	require.True(t, errors.As(Validate(cfg), &ve))
	assert.Contains(t, ve.Reasons, "leader must be set")
	assert.Contains(t, ve.Reasons, `window: bad duration "soon"`)

	cfg = baseConfig(models.StrategyOrderBookImbalance, "BTC")
	cfg.Parameters = map[string]any{"buyThreshold": "2.5", "depthLevels": 5}
	assert.NoError(t, Validate(cfg))
}

func TestDescribeAndDefaults(t *testing.T) {
	agg, clk := newMarket()
	cfg := baseConfig(models.StrategyCrossPairLag, "SOL")
	cfg.Parameters = map[string]any{"leader": "ETH"}
	s := mustStrategy(t, agg, clk, cfg)

	d := s.Describe()
	assert.Equal(t, models.StrategyCrossPairLag, d.Type)
	assert.Equal(t, "ETH", d.Parameters["leader"])
	assert.Equal(t, 0.3, d.Parameters["minLeaderMove"])

	defs, ok := Defaults(models.StrategyOrderBookImbalance)
	require.True(t, ok)
	assert.Equal(t, 3.0, defs["buyThreshold"])
	assert.Len(t, Types(), 3)
}

func TestVolumeWeight(t *testing.T) {
	_, err := volumeWeight(nil, t0)
	assert.EqualError(t, err, "no trade volume")

	_, err = volumeWeight([]models.TradeEvent{{Size: 0, Timestamp: t0}}, t0)
	assert.EqualError(t, err, "no trade volume")

	trades := []models.TradeEvent{
		{Size: 1, Timestamp: t0.Add(-4 * time.Minute)},
		{Size: 3, Timestamp: t0.Add(-30 * time.Second)},
	}
	vw, err := volumeWeight(trades, t0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, vw, 1e-9)
}
