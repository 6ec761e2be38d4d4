package service

import (
	"bot_engine/internal/models"
)

var orderBookImbalanceDefaults = map[string]any{
	"buyThreshold":     3.0,
	"sellThreshold":    0.33,
	"depthLevels":      10,
	"useTradePressure": true,
	"minTradePressure": 0.3,
	"tradeLookback":    20,
}

type orderBookImbalanceConfig struct {
	BuyThreshold     float64
	SellThreshold    float64
	DepthLevels      int
	UseTradePressure bool
	MinTradePressure float64
	TradeLookback    int
}

func readOrderBookImbalance(r *reader) orderBookImbalanceConfig {
	c := orderBookImbalanceConfig{
		BuyThreshold:     r.float("buyThreshold"),
		SellThreshold:    r.float("sellThreshold"),
		DepthLevels:      r.int("depthLevels"),
		UseTradePressure: r.bool("useTradePressure"),
		MinTradePressure: r.float("minTradePressure"),
		TradeLookback:    r.int("tradeLookback"),
	}
	r.check(c.BuyThreshold > 1, "buyThreshold must be > 1")
	r.check(c.SellThreshold > 0 && c.SellThreshold < 1, "sellThreshold must be in (0, 1)")
	r.check(c.DepthLevels > 0, "depthLevels must be > 0")
	r.check(c.MinTradePressure >= 0 && c.MinTradePressure <= 1, "minTradePressure must be in [0, 1]")
	r.check(c.TradeLookback > 0, "tradeLookback must be > 0")
	return c
}

// OrderBookImbalance покупает, когда биды заметно тяжелее асков, и продаёт в обратном случае.
// Поток сделок может подтверждать направление.
type OrderBookImbalance struct {
	*base
	c orderBookImbalanceConfig
}

func newOrderBookImbalance(b *base, r *reader) Strategy {
	s := &OrderBookImbalance{base: b, c: readOrderBookImbalance(r)}
	b.depth = s.c.DepthLevels
	b.lookback = s.c.TradeLookback
	b.impl = s
	return s
}

func (s *OrderBookImbalance) requires() models.Metric {
	m := models.MetricPrice | models.MetricImbalance
	if s.c.UseTradePressure {
		m |= models.MetricTradePressure
	}
	return m
}

func (s *OrderBookImbalance) analyze(cond models.MarketCondition) models.TradingSignal {
	imb := cond.OrderBookImbalance
	pressure := cond.TradePressure

	switch {
	case imb >= s.c.BuyThreshold:
		if s.c.UseTradePressure && pressure < s.c.MinTradePressure {
			return signal(models.SignalNone, 0, "bid imbalance %.2f without buy pressure (%.2f)", imb, pressure)
		}
		return s.withMetadata(signal(models.SignalBuy, confidence(imb/s.c.BuyThreshold),
			"order book imbalance %.2f >= %.2f, trade pressure %.2f", imb, s.c.BuyThreshold, pressure), cond)

	case imb <= s.c.SellThreshold:
		if s.c.UseTradePressure && pressure > -s.c.MinTradePressure {
			return signal(models.SignalNone, 0, "ask imbalance %.2f without sell pressure (%.2f)", imb, pressure)
		}
		ratio := 2.0
		if imb > 0 {
			ratio = s.c.SellThreshold / imb
		}
		return s.withMetadata(signal(models.SignalSell, confidence(ratio),
			"order book imbalance %.2f <= %.2f, trade pressure %.2f", imb, s.c.SellThreshold, pressure), cond)
	}
	return signal(models.SignalNone, 0, "imbalance %.2f inside thresholds", imb)
}

func (s *OrderBookImbalance) withMetadata(sig models.TradingSignal, cond models.MarketCondition) models.TradingSignal {
	sig.Metadata = map[string]any{
		"imbalance":     cond.OrderBookImbalance,
		"tradePressure": cond.TradePressure,
		"volatility":    cond.Volatility,
	}
	return sig
}
