package models

import "time"

type StrategyType string

const (
	StrategyOrderBookImbalance     StrategyType = "orderbook_imbalance"
	StrategyCrossPairLag           StrategyType = "cross_pair_lag"
	StrategyMultiTimeframeBreakout StrategyType = "multi_timeframe_breakout"
)

// Mode говорит, через какой ledger бот исполняет сделки.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func (m Mode) Valid() bool { return m == ModePaper || m == ModeLive }

// StrategyConfig: пользовательская конфигурация стратегии. ID не меняется после создания.
type StrategyConfig struct {
	ID                string         `json:"id" yaml:"id"`
	Name              string         `json:"name" yaml:"name"`
	Type              StrategyType   `json:"type" yaml:"type"`
	Pairs             []string       `json:"pairs" yaml:"pairs"`
	Enabled           bool           `json:"enabled" yaml:"enabled"`
	Mode              Mode           `json:"mode" yaml:"mode"`
	PositionSize      float64        `json:"positionSize" yaml:"position_size"`
	MaxPositions      int            `json:"maxPositions" yaml:"max_positions"`
	StopLossPercent   float64        `json:"stopLossPercent" yaml:"stop_loss_percent"`
	TakeProfitPercent float64        `json:"takeProfitPercent" yaml:"take_profit_percent"`
	Parameters        map[string]any `json:"parameters" yaml:"parameters"`
	CreatedAt         time.Time      `json:"createdAt" yaml:"-"`
	UpdatedAt         time.Time      `json:"updatedAt" yaml:"-"`
}

// HasPair проверяет, входит ли инструмент в список стратегии.
func (c *StrategyConfig) HasPair(instrument string) bool {
	for _, p := range c.Pairs {
		if p == instrument {
			return true
		}
	}
	return false
}

// Clone возвращает копию без общих слайсов и мапы параметров.
func (c StrategyConfig) Clone() StrategyConfig {
	out := c
	out.Pairs = append([]string(nil), c.Pairs...)
	if c.Parameters != nil {
		out.Parameters = make(map[string]any, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}
