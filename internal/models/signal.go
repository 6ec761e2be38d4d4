package models

import "time"

type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalNone SignalType = "NONE"
)

// Side переводит тип сигнала в сторону позиции.
func (t SignalType) Side() Side {
	switch t {
	case SignalBuy:
		return SideBuy
	case SignalSell:
		return SideSell
	}
	return SideNone
}

type TradingSignal struct {
	Type       SignalType     `json:"type"`
	Instrument string         `json:"instrument"`
	Price      float64        `json:"price"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	StrategyID string         `json:"strategyId"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s TradingSignal) IsNone() bool { return s.Type == SignalNone || s.Type == "" }

// NoSignal: сигнал NONE с причиной.
func NoSignal(strategyID, instrument, reason string, ts time.Time) TradingSignal {
	return TradingSignal{
		Type:       SignalNone,
		Instrument: instrument,
		Reason:     reason,
		StrategyID: strategyID,
		Timestamp:  ts,
	}
}
