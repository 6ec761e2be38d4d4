package models

import "time"

type BotStatus string

const (
	BotRunning BotStatus = "running"
	BotPaused  BotStatus = "paused"
	BotStopped BotStatus = "stopped"
	BotError   BotStatus = "error"
)

// BotPerformance: агрегаты по закрытым сделкам бота.
type BotPerformance struct {
	TotalTrades   int           `json:"totalTrades"`
	WinningTrades int           `json:"winningTrades"`
	LosingTrades  int           `json:"losingTrades"`
	WinRate       float64       `json:"winRate"`
	TotalPnl      float64       `json:"totalPnl"`
	TodayPnl      float64       `json:"todayPnl"`
	AvgHoldTime   time.Duration `json:"avgHoldTime"`
	AvgPnlPercent float64       `json:"avgPnlPercent"`
}

type BotInstance struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	StrategyID        string         `json:"strategyId"`
	Status            BotStatus      `json:"status"`
	Mode              Mode           `json:"mode"`
	Positions         []Position     `json:"positions"`
	Performance       BotPerformance `json:"performance"`
	StartedAt         time.Time      `json:"startedAt"`
	LastTradeAt       time.Time      `json:"lastTradeAt,omitempty"`
	ErrorCount        int            `json:"errorCount"`
	ConsecutiveErrors int            `json:"consecutiveErrors"`
	LastError         string         `json:"lastError,omitempty"`
}

// BotStatistics: сводка ledger по боту.
type BotStatistics struct {
	TotalTrades   int           `json:"totalTrades"`
	WinningTrades int           `json:"winningTrades"`
	LosingTrades  int           `json:"losingTrades"`
	WinRate       float64       `json:"winRate"`
	TotalPnl      float64       `json:"totalPnl"`
	AvgPnl        float64       `json:"avgPnl"`
	AvgPnlPercent float64       `json:"avgPnlPercent"`
	AvgHoldTime   time.Duration `json:"avgHoldTime"`
	BestTrade     float64       `json:"bestTrade"`
	WorstTrade    float64       `json:"worstTrade"`
	OpenPositions int           `json:"openPositions"`
	UnrealizedPnl float64       `json:"unrealizedPnl"`
}

// ExecutionResult: итог исполнения сигнала; ExecutedAs показывает фактический ledger.
type ExecutionResult struct {
	Position   *Position `json:"position"`
	ExecutedAs Mode      `json:"executedAs"`
	Fallback   bool      `json:"fallback"`
}
