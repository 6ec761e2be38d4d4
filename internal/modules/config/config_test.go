package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bot_engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, 5, cfg.Engine.MaxConsecutiveErrors)
	assert.Equal(t, time.Hour, cfg.Market.PriceMaxAge)
	assert.Equal(t, 1000, cfg.Market.PriceMaxSamples)
	assert.Equal(t, 100, cfg.Market.TradeMaxSamples)
	assert.Equal(t, 5*time.Second, cfg.OKX.OrderTimeout)
	assert.Equal(t, "1m", cfg.Bootstrap.WarmupTimeframe)
	assert.Equal(t, 60, cfg.Bootstrap.WarmupLimit)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeFile(t, "values.yaml", `
engine:
  tick_interval: 250ms
  max_consecutive_errors: 3
market:
  price_max_samples: 50
db_dsn: postgres://file
`)
	t.Setenv("DATABASE_DSN", "postgres://env")
	t.Setenv("OKX_API_KEY", "key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, 3, cfg.Engine.MaxConsecutiveErrors)
	assert.Equal(t, 50, cfg.Market.PriceMaxSamples)
	assert.Equal(t, "postgres://env", cfg.DB)
	assert.Equal(t, "key", cfg.OKX.APIKey)
}

func TestLoadRejectsNonPositiveErrorLimit(t *testing.T) {
	path := writeFile(t, "values.yaml", "engine:\n  max_consecutive_errors: 0\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadStrategies(t *testing.T) {
	path := writeFile(t, "strategies.yaml", `
strategies:
  - name: imbalance
    type: orderbook_imbalance
    pairs: [BTC, ETH]
    enabled: true
    mode: paper
    position_size: 100
    max_positions: 2
    stop_loss_percent: 0.5
    take_profit_percent: 1
    parameters:
      buyThreshold: 2.5
`)
	list, err := LoadStrategies(path)
	require.NoError(t, err)
	require.Len(t, list, 1)

	s := list[0]
	assert.Equal(t, models.StrategyOrderBookImbalance, s.Type)
	assert.Equal(t, []string{"BTC", "ETH"}, s.Pairs)
	assert.Equal(t, models.ModePaper, s.Mode)
	assert.Equal(t, 100.0, s.PositionSize)
	assert.Equal(t, 2, s.MaxPositions)
	assert.Equal(t, 2.5, s.Parameters["buyThreshold"])
}

func TestLoadStrategiesUnknownField(t *testing.T) {
	path := writeFile(t, "strategies.yaml", "strategies:\n  - name: x\n    bogus: 1\n")
	_, err := LoadStrategies(path)
	require.Error(t, err)
}
