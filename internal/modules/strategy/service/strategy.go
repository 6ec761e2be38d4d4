package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bot_engine/internal/models"

	"github.com/google/uuid"
)

// MarketData: то, что стратегии берут у агрегатора.
type MarketData interface {
	Retain(owner, instrument string)
	Release(owner, instrument string)
	CurrentPrice(instrument string) (float64, error)
	PriceChange(instrument string, window time.Duration) (models.PriceChange, error)
	OrderBookImbalance(instrument string, depth int) (float64, error)
	TradePressure(instrument string, lookback int) (float64, error)
	Volatility(instrument string) float64
	PriceHistory(instrument string, window time.Duration) []models.PricePoint
	HistorySpan(instrument string) time.Duration
	RecentTrades(instrument string) []models.TradeEvent
}

// Strategy: общий контракт всех вариантов.
type Strategy interface {
	Initialize(ctx context.Context) error
	GenerateSignal(instrument string) models.TradingSignal
	Cleanup()
	Describe() Description
	Config() models.StrategyConfig
}

// ExitAdvisor: стратегии со своим правилом выхода поверх общих SL/TP.
type ExitAdvisor interface {
	ShouldExit(pos models.Position, price float64, now time.Time) (reason string, exit bool)
}

type Description struct {
	Type       models.StrategyType `json:"type"`
	Name       string              `json:"name"`
	Summary    string              `json:"summary"`
	Pairs      []string            `json:"pairs"`
	Parameters map[string]any      `json:"parameters"`
}

// analyzer: часть, которую реализует каждый вариант.
type analyzer interface {
	requires() models.Metric
	analyze(cond models.MarketCondition) models.TradingSignal
}

// extraInstruments: варианты, которым нужны инструменты вне Pairs (лидер).
type extraInstruments interface {
	instruments() []string
}

type base struct {
	cfg     models.StrategyConfig
	params  params
	summary string
	market  MarketData
	now     func() time.Time
	owner   string

	depth    int
	lookback int

	impl analyzer

	mu       sync.Mutex
	retained []string
}

func newBase(cfg models.StrategyConfig, p params, summary string, deps Deps) *base {
	return &base{
		cfg:      cfg,
		params:   p,
		summary:  summary,
		market:   deps.Market,
		now:      deps.now(),
		owner:    "strategy:" + cfg.ID + ":" + uuid.NewString(),
		depth:    10,
		lookback: 20,
	}
}

func (b *base) Config() models.StrategyConfig { return b.cfg.Clone() }

// Initialize подписывает инструменты стратегии. Повторный вызов не дублирует подписки.
func (b *base) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.retained != nil {
		return nil
	}
	list := append([]string(nil), b.cfg.Pairs...)
	if ex, ok := b.impl.(extraInstruments); ok {
		for _, inst := range ex.instruments() {
			if !contains(list, inst) {
				list = append(list, inst)
			}
		}
	}
	for _, inst := range list {
		b.market.Retain(b.owner, inst)
	}
	b.retained = list
	return nil
}

// Cleanup снимает подписки. Повторный вызов ничего не делает.
func (b *base) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, inst := range b.retained {
		b.market.Release(b.owner, inst)
	}
	b.retained = nil
}

func (b *base) Describe() Description {
	return Description{
		Type:       b.cfg.Type,
		Name:       b.cfg.Name,
		Summary:    b.summary,
		Pairs:      append([]string(nil), b.cfg.Pairs...),
		Parameters: b.params.clone(),
	}
}

// GenerateSignal проверяет стратегию и инструмент, собирает состояние рынка
// и отдаёт его варианту. Нет нужной метрики: сигнала нет.
func (b *base) GenerateSignal(instrument string) models.TradingSignal {
	now := b.now()
	if !b.cfg.Enabled {
		return models.NoSignal(b.cfg.ID, instrument, "strategy disabled", now)
	}
	if !b.cfg.HasPair(instrument) {
		return models.NoSignal(b.cfg.ID, instrument, "instrument not in strategy pairs", now)
	}

	cond := b.condition(instrument, now)
	if missing := b.impl.requires() &^ availableMask(cond); missing != 0 {
		return models.NoSignal(b.cfg.ID, instrument, "insufficient data: "+metricNames(missing), now)
	}

	sig := b.impl.analyze(cond)
	if sig.Type == "" {
		sig.Type = models.SignalNone
	}
	sig.Instrument = instrument
	sig.StrategyID = b.cfg.ID
	sig.Timestamp = now
	if sig.Price == 0 {
		sig.Price = cond.Price
	}
	if sig.Confidence > 1 {
		sig.Confidence = 1
	}
	return sig
}

func (b *base) condition(instrument string, now time.Time) models.MarketCondition {
	cond := models.MarketCondition{Instrument: instrument, Timestamp: now}

	if px, err := b.market.CurrentPrice(instrument); err == nil {
		cond.Price = px
		cond.SetAvailable(models.MetricPrice)
	}
	if ch, err := b.market.PriceChange(instrument, time.Minute); err == nil {
		cond.PriceChange1m = ch.Percent
		cond.SetAvailable(models.MetricChange1m)
	}
	if ch, err := b.market.PriceChange(instrument, 5*time.Minute); err == nil {
		cond.PriceChange5m = ch.Percent
		cond.SetAvailable(models.MetricChange5m)
	}
	if imb, err := b.market.OrderBookImbalance(instrument, b.depth); err == nil {
		cond.OrderBookImbalance = imb
		cond.SetAvailable(models.MetricImbalance)
	}
	if tp, err := b.market.TradePressure(instrument, b.lookback); err == nil {
		cond.TradePressure = tp
		cond.SetAvailable(models.MetricTradePressure)
	}
	cond.Volatility = b.market.Volatility(instrument)
	return cond
}

var allMetrics = []models.Metric{
	models.MetricPrice,
	models.MetricChange1m,
	models.MetricChange5m,
	models.MetricImbalance,
	models.MetricTradePressure,
}

func availableMask(c models.MarketCondition) models.Metric {
	var m models.Metric
	for _, x := range allMetrics {
		if c.Has(x) {
			m |= x
		}
	}
	return m
}

func metricNames(m models.Metric) string {
	var names []string
	for _, x := range allMetrics {
		if m&x != 0 {
			names = append(names, x.String())
		}
	}
	return strings.Join(names, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// confidence: 0.6 на пороге, линейно растёт с ratio, не выше 0.95.
func confidence(ratio float64) float64 {
	c := 0.6 + 0.35*(ratio-1)
	if c > 0.95 {
		return 0.95
	}
	if c < 0 {
		return 0
	}
	return c
}

func signal(t models.SignalType, conf float64, format string, args ...any) models.TradingSignal {
	return models.TradingSignal{Type: t, Confidence: conf, Reason: fmt.Sprintf(format, args...)}
}
