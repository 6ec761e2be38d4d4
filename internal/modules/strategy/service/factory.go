package service

import (
	"fmt"
	"sort"
	"time"

	"bot_engine/internal/models"
)

// Deps: общие зависимости стратегий.
type Deps struct {
	Market MarketData
	Now    func() time.Time
}

func (d Deps) now() func() time.Time {
	if d.Now == nil {
		return time.Now
	}
	return d.Now
}

type definition struct {
	summary  string
	defaults map[string]any
	build    func(b *base, r *reader) Strategy
}

var registry = map[models.StrategyType]definition{
	models.StrategyOrderBookImbalance: {
		summary:  "Trades heavy bid/ask imbalance in the top of book, optionally confirmed by trade flow",
		defaults: orderBookImbalanceDefaults,
		build:    newOrderBookImbalance,
	},
	models.StrategyCrossPairLag: {
		summary:  "Follows a leader instrument into followers that have not moved yet",
		defaults: crossPairLagDefaults,
		build:    newCrossPairLag,
	},
	models.StrategyMultiTimeframeBreakout: {
		summary:  "Buys breakouts of 5/15/30 minute highs with momentum, volume and risk gates",
		defaults: breakoutDefaults,
		build:    newBreakout,
	},
}

// Types: известные типы стратегий.
func Types() []models.StrategyType {
	out := make([]models.StrategyType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Defaults: параметры варианта по умолчанию.
func Defaults(t models.StrategyType) (map[string]any, bool) {
	def, ok := registry[t]
	if !ok {
		return nil, false
	}
	return params(def.defaults).clone(), true
}

// Validate проверяет конфигурацию целиком и возвращает все нарушения.
func Validate(cfg models.StrategyConfig) error {
	_, err := build(cfg, Deps{})
	return err
}

func validateCommon(cfg models.StrategyConfig) []string {
	var reasons []string
	if cfg.Name == "" {
		reasons = append(reasons, "name must not be empty")
	}
	if len(cfg.Pairs) == 0 {
		reasons = append(reasons, "at least one instrument is required")
	}
	for _, p := range cfg.Pairs {
		if p == "" {
			reasons = append(reasons, "instrument must not be empty")
			break
		}
	}
	if cfg.PositionSize <= 0 {
		reasons = append(reasons, "positionSize must be > 0")
	}
	if cfg.MaxPositions <= 0 {
		reasons = append(reasons, "maxPositions must be > 0")
	}
	if cfg.StopLossPercent <= 0 || cfg.StopLossPercent > 10 {
		reasons = append(reasons, "stopLossPercent must be in (0, 10]")
	}
	if cfg.TakeProfitPercent <= 0 || cfg.TakeProfitPercent > 20 {
		reasons = append(reasons, "takeProfitPercent must be in (0, 20]")
	}
	if !cfg.Mode.Valid() {
		reasons = append(reasons, fmt.Sprintf("unknown mode %q", cfg.Mode))
	}
	return reasons
}

// build валидирует и собирает стратегию. Ошибки общих полей и параметров
// варианта собираются в один ValidationError.
func build(cfg models.StrategyConfig, deps Deps) (Strategy, error) {
	reasons := validateCommon(cfg)

	def, ok := registry[cfg.Type]
	if !ok {
		reasons = append(reasons, fmt.Sprintf("unknown strategy type %q", cfg.Type))
		return nil, &models.ValidationError{Reasons: reasons}
	}

	p := mergeParams(def.defaults, cfg.Parameters)
	r := &reader{p: p}
	s := def.build(newBase(cfg.Clone(), p, def.summary, deps), r)
	reasons = append(reasons, r.errs...)
	if len(reasons) > 0 {
		return nil, &models.ValidationError{Reasons: reasons}
	}
	return s, nil
}

// Factory собирает стратегии поверх общего агрегатора.
type Factory struct {
	deps Deps
}

func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps}
}

// New валидирует конфигурацию и возвращает готовую к Initialize стратегию.
func (f *Factory) New(cfg models.StrategyConfig) (Strategy, error) {
	return build(cfg, f.deps)
}
