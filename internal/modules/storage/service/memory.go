package service

import (
	"context"
	"sync"

	"bot_engine/internal/models"
)

// Memory: хранилище в памяти процесса, когда база не настроена.
type Memory struct {
	mu         sync.RWMutex
	strategies map[string]models.StrategyConfig
	bots       map[string]models.BotInstance
	trades     []models.Trade
}

func NewMemory() *Memory {
	return &Memory{
		strategies: make(map[string]models.StrategyConfig),
		bots:       make(map[string]models.BotInstance),
	}
}

func (m *Memory) SaveStrategy(_ context.Context, cfg models.StrategyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[cfg.ID] = cfg.Clone()
	return nil
}

func (m *Memory) SaveBot(_ context.Context, bot models.BotInstance) error {
	bot.Positions = append([]models.Position(nil), bot.Positions...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[bot.ID] = bot
	return nil
}

// SaveTrade пропускает повторную запись той же сделки.
func (m *Memory) SaveTrade(_ context.Context, trade models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.ID == trade.ID {
			return nil
		}
	}
	m.trades = append(m.trades, trade)
	return nil
}

func (m *Memory) Strategy(id string) (models.StrategyConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.strategies[id]
	return cfg, ok
}

func (m *Memory) Bot(id string) (models.BotInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	return b, ok
}

func (m *Memory) Trades(botID string) []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trade
	for _, t := range m.trades {
		if t.BotID == botID {
			out = append(out, t)
		}
	}
	return out
}
