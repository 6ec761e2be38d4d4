package service

import (
	"fmt"
	"time"

	"bot_engine/internal/models"

	"github.com/pkg/errors"
)

var breakoutDefaults = map[string]any{
	"minMomentum":          0.05,
	"minVolumeWeight":      0.8,
	"maxRiskTier":          3,
	"shortEma":             3,
	"longEma":              10,
	"quickProfitPercent":   0.8,
	"emergencyStopPercent": 1.5,
	"maxHoldTime":          "30m",
	"reversalMomentum":     -0.1,
}

const breakoutMinHistory = 5 * time.Minute

// уровни пробоя от старшего окна к младшему
var breakoutLevels = []struct {
	window     time.Duration
	confidence float64
}{
	{30 * time.Minute, 0.9},
	{15 * time.Minute, 0.75},
	{5 * time.Minute, 0.6},
}

type breakoutConfig struct {
	MinMomentum          float64
	MinVolumeWeight      float64
	MaxRiskTier          int
	ShortEma             int
	LongEma              int
	QuickProfitPercent   float64
	EmergencyStopPercent float64
	MaxHoldTime          time.Duration
	ReversalMomentum     float64
}

func readBreakout(r *reader) breakoutConfig {
	c := breakoutConfig{
		MinMomentum:          r.float("minMomentum"),
		MinVolumeWeight:      r.float("minVolumeWeight"),
		MaxRiskTier:          r.int("maxRiskTier"),
		ShortEma:             r.int("shortEma"),
		LongEma:              r.int("longEma"),
		QuickProfitPercent:   r.float("quickProfitPercent"),
		EmergencyStopPercent: r.float("emergencyStopPercent"),
		MaxHoldTime:          r.duration("maxHoldTime"),
		ReversalMomentum:     r.float("reversalMomentum"),
	}
	r.check(c.MinVolumeWeight >= 0, "minVolumeWeight must be >= 0")
	r.check(c.MaxRiskTier >= 1 && c.MaxRiskTier <= 4, "maxRiskTier must be in [1, 4]")
	r.check(c.ShortEma > 0 && c.ShortEma < c.LongEma, "shortEma must be > 0 and below longEma")
	r.check(c.LongEma <= 30, "longEma must be <= 30")
	r.check(c.QuickProfitPercent > 0, "quickProfitPercent must be > 0")
	r.check(c.EmergencyStopPercent > 0, "emergencyStopPercent must be > 0")
	r.check(c.MaxHoldTime > 0, "maxHoldTime must be > 0")
	return c
}

// MultiTimeframeBreakout покупает пробой максимумов 5/15/30 минут при подтверждённом
// импульсе, объёме и допустимой волатильности. Выход: свои правила поверх SL/TP.
type MultiTimeframeBreakout struct {
	*base
	c breakoutConfig
}

func newBreakout(b *base, r *reader) Strategy {
	s := &MultiTimeframeBreakout{base: b, c: readBreakout(r)}
	b.impl = s
	return s
}

func (s *MultiTimeframeBreakout) requires() models.Metric { return models.MetricPrice }

type momentumReading struct {
	momentum     float64
	divergence   float64
	volumeWeight float64
	riskTier     int
}

func riskTier(volatility float64) int {
	switch {
	case volatility < 0.1:
		return 1
	case volatility < 0.25:
		return 2
	case volatility < 0.5:
		return 3
	}
	return 4
}

// momentum: расхождение короткой и длинной EMA по минутной сетке, умноженное на
// относительный объём и ослабленное волатильностью.
func (s *MultiTimeframeBreakout) momentum(instrument string, now time.Time) (momentumReading, error) {
	hist := s.market.PriceHistory(instrument, 30*time.Minute)
	samples := resample(hist, now, time.Minute, 31)

	short, _ := ema(samples, s.c.ShortEma)
	long, ok := ema(samples, s.c.LongEma)
	if !ok || long == 0 {
		return momentumReading{}, errors.New("momentum warming up")
	}

	vw, err := volumeWeight(s.market.RecentTrades(instrument), now)
	if err != nil {
		return momentumReading{}, err
	}
	vol := s.market.Volatility(instrument)
	div := (short - long) / long * 100

	return momentumReading{
		momentum:     div * vw / (1 + vol),
		divergence:   div,
		volumeWeight: vw,
		riskTier:     riskTier(vol),
	}, nil
}

// volumeWeight: объём последней минуты к среднему объёму за минуту по хранимым сделкам.
func volumeWeight(trades []models.TradeEvent, now time.Time) (float64, error) {
	if len(trades) == 0 {
		return 0, errors.New("no trade volume")
	}
	var total, recent float64
	cutoff := now.Add(-time.Minute)
	for _, t := range trades {
		total += t.Size
		if !t.Timestamp.Before(cutoff) {
			recent += t.Size
		}
	}
	minutes := now.Sub(trades[0].Timestamp).Minutes()
	if minutes < 1 {
		minutes = 1
	}
	avg := total / minutes
	if avg == 0 {
		return 0, errors.New("no trade volume")
	}
	return recent / avg, nil
}

func (s *MultiTimeframeBreakout) analyze(cond models.MarketCondition) models.TradingSignal {
	span := s.market.HistorySpan(cond.Instrument)
	if span < breakoutMinHistory {
		return signal(models.SignalNone, 0, "insufficient data: price history %s", span.Truncate(time.Second))
	}

	hist := s.market.PriceHistory(cond.Instrument, 30*time.Minute)
	if len(hist) < 2 {
		return signal(models.SignalNone, 0, "insufficient data: price history")
	}
	prior := hist[:len(hist)-1]

	var (
		level     time.Duration
		levelHigh float64
		conf      float64
	)
	for _, l := range breakoutLevels {
		if span < l.window {
			continue
		}
		high, ok := highSince(prior, cond.Timestamp.Add(-l.window))
		if ok && cond.Price > high {
			level, levelHigh, conf = l.window, high, l.confidence
			break
		}
	}
	if level == 0 {
		return signal(models.SignalNone, 0, "no breakout at %.6f", cond.Price)
	}

	m, err := s.momentum(cond.Instrument, cond.Timestamp)
	if err != nil {
		return signal(models.SignalNone, 0, "insufficient data: %v", err)
	}
	if m.momentum < s.c.MinMomentum {
		return signal(models.SignalNone, 0, "%s breakout, momentum %.3f below %.3f", level, m.momentum, s.c.MinMomentum)
	}
	if m.volumeWeight < s.c.MinVolumeWeight {
		return signal(models.SignalNone, 0, "%s breakout, volume weight %.2f below %.2f", level, m.volumeWeight, s.c.MinVolumeWeight)
	}
	if m.riskTier > s.c.MaxRiskTier {
		return signal(models.SignalNone, 0, "%s breakout, risk tier %d above %d", level, m.riskTier, s.c.MaxRiskTier)
	}

	sig := signal(models.SignalBuy, conf, "%s high %.6f broken at %.6f, momentum %.3f", level, levelHigh, cond.Price, m.momentum)
	sig.Metadata = map[string]any{
		"level":        level.String(),
		"high":         levelHigh,
		"momentum":     m.momentum,
		"volumeWeight": m.volumeWeight,
		"riskTier":     m.riskTier,
	}
	return sig
}

func highSince(points []models.PricePoint, since time.Time) (float64, bool) {
	var high float64
	found := false
	for _, p := range points {
		if p.Timestamp.Before(since) {
			continue
		}
		if !found || p.Price > high {
			high = p.Price
			found = true
		}
	}
	return high, found
}

// ShouldExit: быстрый профит, аварийный стоп, время удержания, разворот импульса.
func (s *MultiTimeframeBreakout) ShouldExit(pos models.Position, price float64, now time.Time) (string, bool) {
	pnlPct := models.CalcPnlPercent(pos.Pnl(price), pos.EntryPrice, pos.Size)

	if pnlPct >= s.c.QuickProfitPercent {
		return fmt.Sprintf("Quick profit %.2f%%", pnlPct), true
	}
	if pnlPct <= -s.c.EmergencyStopPercent {
		return fmt.Sprintf("Emergency stop %.2f%%", pnlPct), true
	}
	if now.Sub(pos.OpenedAt) >= s.c.MaxHoldTime {
		return "Max hold time reached", true
	}

	m, err := s.momentum(pos.Instrument, now)
	if err != nil {
		return "", false
	}
	mom := m.momentum
	if pos.Side == models.SideSell {
		mom = -mom
	}
	if mom <= s.c.ReversalMomentum {
		return fmt.Sprintf("Momentum reversal %.3f", m.momentum), true
	}
	return "", false
}
