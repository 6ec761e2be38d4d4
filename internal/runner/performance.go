package runner

import (
	"time"

	"bot_engine/internal/models"
)

// performance пересчитывает агрегаты бота по закрытым сделкам.
// todayPnl: сделки, закрытые с полуночи в зоне now.
func performance(trades []models.Trade, now time.Time) models.BotPerformance {
	var (
		p        models.BotPerformance
		hold     time.Duration
		pctTotal float64
	)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, t := range trades {
		p.TotalTrades++
		p.TotalPnl += t.Pnl
		switch {
		case t.Pnl > 0:
			p.WinningTrades++
		case t.Pnl < 0:
			p.LosingTrades++
		}
		if !t.ClosedAt.Before(midnight) {
			p.TodayPnl += t.Pnl
		}
		hold += t.HoldTime
		pctTotal += t.PnlPercent
	}
	if p.TotalTrades == 0 {
		return p
	}
	n := float64(p.TotalTrades)
	p.WinRate = float64(p.WinningTrades) / n * 100
	p.AvgHoldTime = hold / time.Duration(p.TotalTrades)
	p.AvgPnlPercent = pctTotal / n
	return p
}
