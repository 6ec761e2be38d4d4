package runner

import (
	"context"
	"time"

	"bot_engine/internal/metrics"
	"bot_engine/internal/models"
	ledger "bot_engine/internal/modules/ledger/service"
	strategy "bot_engine/internal/modules/strategy/service"
	"bot_engine/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Run крутит тик до отмены ctx.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	logger.Info("[RUNNER] ▶️ tick loop started, interval=%s", o.opts.TickInterval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[RUNNER] tick loop stopped")
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick: одна итерация, сначала сопровождение открытых позиций, потом новые входы.
// Ошибка одного бота не прерывает тик.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "runner.tick")
	defer span.Finish()
	started := time.Now()

	o.maintain(ctx)
	o.exits(ctx)
	o.signals(ctx)

	metrics.ObserveTick(time.Since(started))
	if o.opts.OnTick != nil {
		o.opts.OnTick(o.now())
	}
}

// maintain: SL/TP и сверка ордеров в каждом ledger, закрытые сделки идут в статистику ботов.
// Отказы закрытия засчитываются боту-владельцу позиции.
func (o *Orchestrator) maintain(ctx context.Context) {
	for _, l := range o.ledgers() {
		trades, err := l.UpdatePositions(ctx)
		for _, t := range trades {
			b, lerr := o.lookup(t.BotID)
			if lerr != nil {
				logger.Warn("[RUNNER] trade %s of unknown bot %s", t.ID, t.BotID)
				continue
			}
			b.mu.Lock()
			o.recordTradeLocked(ctx, b, t)
			b.mu.Unlock()
		}
		if err == nil {
			continue
		}

		escalated := false
		for _, e := range multierr.Errors(err) {
			var ee *models.ExecutionError
			if !errors.As(e, &ee) || ee.BotID == "" {
				logger.Warn("[RUNNER] %s update positions: %v", l.Mode(), e)
				continue
			}
			b, lerr := o.lookup(ee.BotID)
			if lerr != nil {
				logger.Warn("[RUNNER] %s update positions of unknown bot %s: %v", l.Mode(), ee.BotID, e)
				continue
			}
			b.mu.Lock()
			escalated = o.failLocked(ctx, b, e) || escalated
			b.mu.Unlock()
		}
		if escalated {
			o.reportBots()
		}
	}
}

// exits: собственные правила выхода стратегий поверх SL/TP.
func (o *Orchestrator) exits(ctx context.Context) {
	for _, b := range o.snapshot() {
		advisor, ok := b.strategy.(strategy.ExitAdvisor)
		if !ok {
			continue
		}
		escalated := false

		b.mu.Lock()
		if b.inst.Status != models.BotStopped {
			now := o.now()
			for _, l := range o.ledgers() {
				for _, pos := range l.BotPositions(b.inst.ID) {
					reason, exit := advisor.ShouldExit(pos, pos.CurrentPrice, now)
					if !exit {
						continue
					}
					trade, err := l.ClosePosition(ctx, pos.ID, reason)
					if err != nil {
						if errors.Is(err, models.ErrPositionBusy) || errors.Is(err, models.ErrNotFound) {
							continue
						}
						escalated = o.failLocked(ctx, b, err) || escalated
						continue
					}
					o.recordTradeLocked(ctx, b, *trade)
				}
			}
		}
		b.mu.Unlock()

		if escalated {
			o.reportBots()
		}
	}
}

// signals: параллельно по ботам, внутри бота инструменты идут по порядку.
func (o *Orchestrator) signals(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.SignalWorkers)

	for _, b := range o.snapshot() {
		b := b
		g.Go(func() error {
			if o.runBot(ctx, b) {
				o.reportBots()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// runBot возвращает true, если бот перешёл в error.
func (o *Orchestrator) runBot(ctx context.Context, b *bot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inst.Status != models.BotRunning {
		return false
	}
	open := o.exposure(b.inst.ID)
	if open >= b.cfg.MaxPositions {
		return false
	}

	for _, inst := range b.cfg.Pairs {
		if ctx.Err() != nil || open >= b.cfg.MaxPositions {
			return false
		}
		sig := b.strategy.GenerateSignal(inst)
		if sig.IsNone() {
			continue
		}
		metrics.SignalGenerated(string(b.cfg.Type), string(sig.Type))
		if o.holds(b.inst.ID, inst) {
			continue
		}
		if sig.Price <= 0 {
			logger.Warn("[RUNNER] bot %s: %s signal for %s without price", b.inst.ID, sig.Type, inst)
			continue
		}

		res, err := o.execute(ctx, b, sig)
		if err != nil {
			if errors.Is(err, models.ErrPositionExists) || errors.Is(err, models.ErrPositionBusy) {
				continue
			}
			if models.OutcomeUnknown(err) {
				// ордер припаркован до сверки и может исполниться
				open++
			}
			if o.failLocked(ctx, b, err) {
				return true
			}
			continue
		}

		b.lastExec = &res
		b.inst.ConsecutiveErrors = 0
		open++
		logger.Info("[RUNNER] bot %s: %s %s @ %.8f conf=%.2f executedAs=%s fallback=%v reason=%q",
			b.inst.ID, sig.Type, inst, res.Position.EntryPrice, sig.Confidence, res.ExecutedAs, res.Fallback, sig.Reason)
		o.persistLocked(ctx, b)
	}
	return false
}

// holds: есть ли у бота позиция (или ордер на сверке) по инструменту в любом ledger.
func (o *Orchestrator) holds(botID, instrument string) bool {
	for _, l := range o.ledgers() {
		if l.HasPosition(botID, instrument) {
			return true
		}
	}
	return false
}

// execute выбирает ledger по режиму бота. Live без подключения исполняется в paper.
func (o *Orchestrator) execute(ctx context.Context, b *bot, sig models.TradingSignal) (models.ExecutionResult, error) {
	l := o.paper
	res := models.ExecutionResult{ExecutedAs: models.ModePaper}
	if b.cfg.Mode == models.ModeLive {
		if o.live != nil && o.live.Connected() {
			l = o.live
			res.ExecutedAs = models.ModeLive
		} else {
			res.Fallback = true
			metrics.PaperFallback()
			logger.Warn("[RUNNER] bot %s: live execution not connected, %s %s goes to paper", b.inst.ID, sig.Type, sig.Instrument)
		}
	}

	pos, err := l.OpenPosition(ctx, ledger.OpenRequest{
		BotID:             b.inst.ID,
		StrategyID:        b.cfg.ID,
		Instrument:        sig.Instrument,
		Side:              sig.Type.Side(),
		Size:              b.cfg.PositionSize / sig.Price,
		StopLossPercent:   b.cfg.StopLossPercent,
		TakeProfitPercent: b.cfg.TakeProfitPercent,
	})
	if err != nil {
		return res, err
	}
	res.Position = pos
	return res, nil
}

// failLocked учитывает ошибку исполнения. Возвращает true, если бот ушёл в error.
func (o *Orchestrator) failLocked(ctx context.Context, b *bot, err error) bool {
	b.inst.LastError = err.Error()
	if !models.IsExecutionError(err) {
		logger.Warn("[RUNNER] bot %s: %v", b.inst.ID, err)
		return false
	}

	b.inst.ErrorCount++
	b.inst.ConsecutiveErrors++
	logger.Error("[RUNNER] bot %s: execution error %d/%d: %v",
		b.inst.ID, b.inst.ConsecutiveErrors, o.opts.MaxConsecutiveErrors, err)

	escalated := false
	if b.inst.Status == models.BotRunning && b.inst.ConsecutiveErrors >= o.opts.MaxConsecutiveErrors {
		b.inst.Status = models.BotError
		escalated = true
		logger.Error("[RUNNER] bot %s moved to error after %d consecutive failures", b.inst.ID, b.inst.ConsecutiveErrors)
		o.notifier.Sendf("❗️ Бот %s остановлен по ошибкам: %s", b.cfg.Name, b.inst.LastError)
	}
	o.persistLocked(ctx, b)
	return escalated
}

func (o *Orchestrator) recordTradeLocked(ctx context.Context, b *bot, t models.Trade) {
	b.trades = append(b.trades, t)
	b.inst.LastTradeAt = t.ClosedAt

	if err := o.store.SaveTrade(ctx, t); err != nil {
		logger.Warn("[RUNNER] save trade %s: %v", t.ID, err)
	}
	o.persistLocked(ctx, b)

	emoji := "✅"
	if t.Pnl < 0 {
		emoji = "🔻"
	}
	o.notifier.Sendf("%s %s %s %s: %.8f → %.8f pnl=%.4f (%.2f%%) %s",
		emoji, b.cfg.Name, t.Side, t.Instrument, t.EntryPrice, t.ExitPrice, t.Pnl, t.PnlPercent, t.Reason)
}
