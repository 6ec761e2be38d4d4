package service

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type bar struct {
	name string // как его пишет OKX
	span time.Duration
}

// bars: таймфреймы прогрева. Часовые и дневные OKX пишет заглавными.
var bars = map[string]bar{
	"1m":  {"1m", time.Minute},
	"3m":  {"3m", 3 * time.Minute},
	"5m":  {"5m", 5 * time.Minute},
	"15m": {"15m", 15 * time.Minute},
	"30m": {"30m", 30 * time.Minute},
	"1h":  {"1H", time.Hour},
	"60m": {"1H", time.Hour},
	"2h":  {"2H", 2 * time.Hour},
	"4h":  {"4H", 4 * time.Hour},
	"1d":  {"1D", 24 * time.Hour},
}

func okxBar(timeframe string) (bar, error) {
	b, ok := bars[strings.ToLower(strings.TrimSpace(timeframe))]
	if !ok {
		return bar{}, errors.Errorf("unsupported timeframe for OKX bar: %q", timeframe)
	}
	return b, nil
}
