package models

import "time"

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position: открытая позиция бота. Instrument, Side, Size, StopLoss и TakeProfit
// фиксируются при открытии.
type Position struct {
	ID            string         `json:"id"`
	BotID         string         `json:"botId"`
	StrategyID    string         `json:"strategyId"`
	Instrument    string         `json:"instrument"`
	Side          Side           `json:"side"`
	EntryPrice    float64        `json:"entryPrice"`
	CurrentPrice  float64        `json:"currentPrice"`
	Size          float64        `json:"size"`
	StopLoss      float64        `json:"stopLoss"`
	TakeProfit    float64        `json:"takeProfit"`
	UnrealizedPnl float64        `json:"unrealizedPnl"`
	OpenedAt      time.Time      `json:"openedAt"`
	Status        PositionStatus `json:"status"`
	Mode          Mode           `json:"mode"`

	// live: частично закрытый объём и сумма исполнения по нему
	ClosedSize     float64 `json:"closedSize,omitempty"`
	ClosedNotional float64 `json:"-"`
	// live: закрывающий ордер с неизвестным исходом, ждёт сверки
	PendingCloseID     string `json:"pendingCloseId,omitempty"`
	PendingCloseReason string `json:"-"`
}

// RemainingSize: ещё не закрытый объём.
func (p *Position) RemainingSize() float64 { return p.Size - p.ClosedSize }

// Pnl считает результат позиции при цене px на весь объём.
func (p *Position) Pnl(px float64) float64 {
	return CalcPnl(p.Side, p.EntryPrice, px, p.Size)
}

// StopLossHit / TakeProfitHit: проверки уровней по текущей цене.
func (p *Position) StopLossHit(px float64) bool {
	if p.Side == SideBuy {
		return px <= p.StopLoss
	}
	return px >= p.StopLoss
}

func (p *Position) TakeProfitHit(px float64) bool {
	if p.Side == SideBuy {
		return px >= p.TakeProfit
	}
	return px <= p.TakeProfit
}

// Trade: закрытая позиция. Неизменяема, лежит в append-only журнале.
type Trade struct {
	ID         string        `json:"id"`
	PositionID string        `json:"positionId"`
	BotID      string        `json:"botId"`
	StrategyID string        `json:"strategyId"`
	Instrument string        `json:"instrument"`
	Side       Side          `json:"side"`
	EntryPrice float64       `json:"entryPrice"`
	ExitPrice  float64       `json:"exitPrice"`
	Size       float64       `json:"size"`
	Pnl        float64       `json:"pnl"`
	PnlPercent float64       `json:"pnlPercent"`
	HoldTime   time.Duration `json:"holdTime"`
	Reason     string        `json:"reason"`
	OpenedAt   time.Time     `json:"openedAt"`
	ClosedAt   time.Time     `json:"closedAt"`
	Mode       Mode          `json:"mode"`
}

// CalcPnl: BUY (exit-entry)*size, SELL (entry-exit)*size.
func CalcPnl(side Side, entry, exit, size float64) float64 {
	if side == SideSell {
		return (entry - exit) * size
	}
	return (exit - entry) * size
}

// CalcPnlPercent: pnl относительно вложенной суммы entry*size.
func CalcPnlPercent(pnl, entry, size float64) float64 {
	notional := entry * size
	if notional == 0 {
		return 0
	}
	return pnl / notional * 100
}

// StopLevels считает SL/TP от цены входа.
func StopLevels(side Side, entry, stopLossPct, takeProfitPct float64) (sl, tp float64) {
	stop := stopLossPct / 100.0
	take := takeProfitPct / 100.0
	if side == SideSell {
		return entry * (1 + stop), entry * (1 - take)
	}
	return entry * (1 - stop), entry * (1 + take)
}

const (
	ReasonStopLoss   = "Stop loss hit"
	ReasonTakeProfit = "Take profit hit"
	ReasonBotStopped = "Bot stopped"
)

// ReasonLabel: короткая метка причины закрытия для метрик.
func ReasonLabel(reason string) string {
	switch reason {
	case ReasonStopLoss:
		return "stop_loss"
	case ReasonTakeProfit:
		return "take_profit"
	case ReasonBotStopped:
		return "bot_stopped"
	}
	return "strategy"
}
