package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"bot_engine/internal/metrics"
	"bot_engine/internal/models"
	"bot_engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type OpenRequest struct {
	BotID             string
	StrategyID        string
	Instrument        string
	Side              models.Side
	Size              float64
	StopLossPercent   float64
	TakeProfitPercent float64
}

type Options struct {
	Now          func() time.Time
	OrderTimeout time.Duration
}

type posKey struct {
	bot        string
	instrument string
}

// pendingOpen: открывающий ордер с неизвестным исходом.
type pendingOpen struct {
	req      OpenRequest
	clientID string
	at       time.Time
}

// Ledger ведёт жизненный цикл позиций одного режима (paper или live).
// Открытие и закрытие по одной паре (бот, инструмент) взаимно исключены.
type Ledger struct {
	venue  venue
	prices PriceSource
	now    func() time.Time

	mu        sync.RWMutex
	positions map[string]*models.Position
	byKey     map[posKey]string
	pending   map[posKey]*pendingOpen
	inflight  map[posKey]struct{}
	trades    []models.Trade
}

// NewPaper: исполнение по текущей цене агрегатора.
func NewPaper(prices PriceSource, opts Options) *Ledger {
	return newLedger(&paperVenue{prices: prices}, prices, opts)
}

// NewLive: исполнение через биржу; prices нужен для переоценки и проверки SL/TP.
func NewLive(exec Executor, prices PriceSource, opts Options) *Ledger {
	timeout := opts.OrderTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return newLedger(&liveVenue{exec: exec, timeout: timeout}, prices, opts)
}

func newLedger(v venue, prices PriceSource, opts Options) *Ledger {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		venue:     v,
		prices:    prices,
		now:       now,
		positions: make(map[string]*models.Position),
		byKey:     make(map[posKey]string),
		pending:   make(map[posKey]*pendingOpen),
		inflight:  make(map[posKey]struct{}),
	}
}

func (l *Ledger) Mode() models.Mode { return l.venue.mode() }

// Connected: можно ли прямо сейчас отправлять ордера.
func (l *Ledger) Connected() bool { return l.venue.ready() == nil }

func clientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (l *Ledger) fail(botID string, err error) error {
	var ee *models.ExecutionError
	if errors.As(err, &ee) {
		if ee.BotID == "" {
			ee.BotID = botID
		}
		metrics.ExecutionFailed(string(l.Mode()), string(ee.Kind))
	}
	return err
}

// reserve занимает пару (бот, инструмент) под открытие.
func (l *Ledger) reserve(key posKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.inflight[key]; ok {
		return errors.Wrapf(models.ErrPositionBusy, "%s/%s", key.bot, key.instrument)
	}
	if _, ok := l.byKey[key]; ok {
		return errors.Wrapf(models.ErrPositionExists, "%s/%s", key.bot, key.instrument)
	}
	if _, ok := l.pending[key]; ok {
		return errors.Wrapf(models.ErrPositionBusy, "%s/%s awaiting order status", key.bot, key.instrument)
	}
	l.inflight[key] = struct{}{}
	return nil
}

func (l *Ledger) release(key posKey) {
	l.mu.Lock()
	delete(l.inflight, key)
	l.mu.Unlock()
}

// OpenPosition открывает позицию; SL/TP считаются от фактической цены входа.
func (l *Ledger) OpenPosition(ctx context.Context, req OpenRequest) (*models.Position, error) {
	if req.Size <= 0 || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return nil, errors.Errorf("open %s: invalid size %v", req.Instrument, req.Size)
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return nil, errors.Errorf("open %s: invalid side %q", req.Instrument, req.Side)
	}
	if err := l.venue.ready(); err != nil {
		return nil, l.fail(req.BotID, models.NewExecutionError("open", req.Instrument, models.ExecNotConnect, err))
	}

	key := posKey{bot: req.BotID, instrument: req.Instrument}
	if err := l.reserve(key); err != nil {
		return nil, err
	}
	defer l.release(key)

	clientID := clientOrderID()
	f, err := l.venue.open(ctx, req, clientID)
	if err != nil {
		if models.OutcomeUnknown(err) {
			l.mu.Lock()
			l.pending[key] = &pendingOpen{req: req, clientID: clientID, at: l.now()}
			l.mu.Unlock()
			logger.Warn("[LEDGER] %s open %s outcome unknown, order %s parked", l.Mode(), req.Instrument, clientID)
		}
		return nil, l.fail(req.BotID, err)
	}

	l.mu.Lock()
	pos := l.insertLocked(req, f)
	out := *pos
	l.mu.Unlock()

	logger.Info("[LEDGER] %s open %s %s size=%.8f entry=%.8f sl=%.8f tp=%.8f bot=%s",
		l.Mode(), pos.Side, pos.Instrument, pos.Size, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.BotID)
	return &out, nil
}

func (l *Ledger) insertLocked(req OpenRequest, f fill) *models.Position {
	sl, tp := models.StopLevels(req.Side, f.price, req.StopLossPercent, req.TakeProfitPercent)
	pos := &models.Position{
		ID:           uuid.NewString(),
		BotID:        req.BotID,
		StrategyID:   req.StrategyID,
		Instrument:   req.Instrument,
		Side:         req.Side,
		EntryPrice:   f.price,
		CurrentPrice: f.price,
		Size:         f.size,
		StopLoss:     sl,
		TakeProfit:   tp,
		OpenedAt:     l.now(),
		Status:       models.PositionOpen,
		Mode:         l.Mode(),
	}
	l.positions[pos.ID] = pos
	l.byKey[posKey{bot: req.BotID, instrument: req.Instrument}] = pos.ID
	metrics.SetOpenPositions(string(l.Mode()), len(l.positions))
	return pos
}

// ClosePosition закрывает позицию целиком и возвращает сделку.
func (l *Ledger) ClosePosition(ctx context.Context, id, reason string) (*models.Trade, error) {
	l.mu.Lock()
	pos, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return nil, errors.Wrapf(models.ErrNotFound, "position %s", id)
	}
	key := posKey{bot: pos.BotID, instrument: pos.Instrument}
	if _, busy := l.inflight[key]; busy || pos.PendingCloseID != "" {
		l.mu.Unlock()
		return nil, errors.Wrapf(models.ErrPositionBusy, "position %s", id)
	}
	l.inflight[key] = struct{}{}
	snap := *pos
	l.mu.Unlock()

	defer l.release(key)
	return l.closeSnapshot(ctx, snap, reason)
}

func (l *Ledger) closeSnapshot(ctx context.Context, snap models.Position, reason string) (*models.Trade, error) {
	if err := l.venue.ready(); err != nil {
		return nil, l.fail(snap.BotID, models.NewExecutionError("close", snap.Instrument, models.ExecNotConnect, err))
	}

	clientID := clientOrderID()
	f, err := l.venue.close(ctx, snap, clientID)
	if err != nil {
		if models.OutcomeUnknown(err) {
			l.mu.Lock()
			if pos, ok := l.positions[snap.ID]; ok {
				pos.PendingCloseID = clientID
				pos.PendingCloseReason = reason
			}
			l.mu.Unlock()
			logger.Warn("[LEDGER] %s close %s outcome unknown, order %s parked", l.Mode(), snap.Instrument, clientID)
		}
		return nil, l.fail(snap.BotID, err)
	}
	return l.applyCloseFill(snap.ID, f, reason)
}

// applyCloseFill учитывает исполнение закрывающего ордера. Пока объём не закрыт
// полностью, позиция остаётся открытой.
func (l *Ledger) applyCloseFill(id string, f fill, reason string) (*models.Trade, error) {
	l.mu.Lock()
	pos, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return nil, errors.Wrapf(models.ErrNotFound, "position %s", id)
	}

	size := math.Min(f.size, pos.RemainingSize())
	pos.ClosedSize += size
	pos.ClosedNotional += f.price * size

	if pos.RemainingSize() > pos.Size*1e-9 {
		remaining, botID := pos.RemainingSize(), pos.BotID
		l.mu.Unlock()
		return nil, l.fail(botID, models.NewExecutionError("close", pos.Instrument, models.ExecRejected,
			errors.Errorf("partial fill %.8f, %.8f still open", size, remaining)))
	}

	trade := l.finalizeLocked(pos, reason)
	l.mu.Unlock()

	metrics.TradeClosed(string(trade.Mode), models.ReasonLabel(reason), trade.Pnl)
	logger.Info("[LEDGER] %s close %s %s exit=%.8f pnl=%.8f (%.2f%%) reason=%q bot=%s",
		trade.Mode, trade.Side, trade.Instrument, trade.ExitPrice, trade.Pnl, trade.PnlPercent, reason, trade.BotID)
	return &trade, nil
}

func (l *Ledger) finalizeLocked(pos *models.Position, reason string) models.Trade {
	now := l.now()
	if now.Before(pos.OpenedAt) {
		now = pos.OpenedAt
	}
	exit := pos.ClosedNotional / pos.Size
	pnl := models.CalcPnl(pos.Side, pos.EntryPrice, exit, pos.Size)

	trade := models.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		BotID:      pos.BotID,
		StrategyID: pos.StrategyID,
		Instrument: pos.Instrument,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Size:       pos.Size,
		Pnl:        pnl,
		PnlPercent: models.CalcPnlPercent(pnl, pos.EntryPrice, pos.Size),
		HoldTime:   now.Sub(pos.OpenedAt),
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
		Mode:       pos.Mode,
	}
	pos.Status = models.PositionClosed
	delete(l.positions, pos.ID)
	delete(l.byKey, posKey{bot: pos.BotID, instrument: pos.Instrument})
	l.trades = append(l.trades, trade)
	metrics.SetOpenPositions(string(l.Mode()), len(l.positions))
	return trade
}

// UpdatePositions переоценивает открытые позиции и закрывает те, что дошли до SL или TP.
// Стоп проверяется первым. Ошибки отдельных позиций не прерывают проход и
// возвращаются через multierr; отказы закрытия несут BotID владельца.
func (l *Ledger) UpdatePositions(ctx context.Context) ([]models.Trade, error) {
	trades, errs := l.reconcile(ctx)

	for _, id := range l.openIDs() {
		if ctx.Err() != nil {
			return trades, multierr.Append(errs, ctx.Err())
		}

		l.mu.Lock()
		pos, ok := l.positions[id]
		if !ok || pos.PendingCloseID != "" {
			l.mu.Unlock()
			continue
		}
		key := posKey{bot: pos.BotID, instrument: pos.Instrument}
		if _, busy := l.inflight[key]; busy {
			l.mu.Unlock()
			continue
		}
		px, err := l.prices.CurrentPrice(pos.Instrument)
		if err != nil {
			l.mu.Unlock()
			continue
		}
		pos.CurrentPrice = px
		pos.UnrealizedPnl = models.CalcPnl(pos.Side, pos.EntryPrice, px, pos.RemainingSize())

		var reason string
		switch {
		case pos.StopLossHit(px):
			reason = models.ReasonStopLoss
		case pos.TakeProfitHit(px):
			reason = models.ReasonTakeProfit
		}
		if reason == "" {
			l.mu.Unlock()
			continue
		}
		l.inflight[key] = struct{}{}
		snap := *pos
		l.mu.Unlock()

		trade, err := l.closeSnapshot(ctx, snap, reason)
		l.release(key)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		trades = append(trades, *trade)
	}
	return trades, errs
}

// openIDs: открытые позиции в порядке открытия.
func (l *Ledger) openIDs() []string {
	l.mu.RLock()
	list := make([]*models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		list = append(list, p)
	}
	l.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].OpenedAt.Equal(list[j].OpenedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].OpenedAt.Before(list[j].OpenedAt)
	})
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	return ids
}

// reconcile сверяет ордера с неизвестным исходом. Повторно они не отправляются.
func (l *Ledger) reconcile(ctx context.Context) ([]models.Trade, error) {
	var (
		trades []models.Trade
		errs   error
	)

	l.mu.RLock()
	opens := make(map[posKey]pendingOpen, len(l.pending))
	for k, p := range l.pending {
		opens[k] = *p
	}
	closes := make([]models.Position, 0)
	for _, p := range l.positions {
		if p.PendingCloseID != "" {
			closes = append(closes, *p)
		}
	}
	l.mu.RUnlock()

	for key, po := range opens {
		f, done, err := l.venue.status(ctx, po.req.Instrument, po.clientID)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "status of open order %s", po.clientID))
			continue
		}
		if !done {
			continue
		}
		l.mu.Lock()
		delete(l.pending, key)
		if f.size > 0 {
			pos := l.insertLocked(po.req, f)
			logger.Info("[LEDGER] %s open %s reconciled: size=%.8f entry=%.8f", l.Mode(), pos.Instrument, pos.Size, pos.EntryPrice)
		} else {
			logger.Info("[LEDGER] %s open %s reconciled: not filled", l.Mode(), po.req.Instrument)
		}
		l.mu.Unlock()
	}

	for _, snap := range closes {
		f, done, err := l.venue.status(ctx, snap.Instrument, snap.PendingCloseID)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "status of close order %s", snap.PendingCloseID))
			continue
		}
		if !done {
			continue
		}
		l.mu.Lock()
		if pos, ok := l.positions[snap.ID]; ok {
			pos.PendingCloseID = ""
			pos.PendingCloseReason = ""
		}
		l.mu.Unlock()

		if f.size <= 0 {
			continue
		}
		trade, err := l.applyCloseFill(snap.ID, f, snap.PendingCloseReason)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		trades = append(trades, *trade)
	}
	return trades, errs
}

// Position возвращает копию открытой позиции.
func (l *Ledger) Position(id string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// HasPosition: есть ли у бота открытая (или ожидающая сверки) позиция по инструменту.
func (l *Ledger) HasPosition(botID, instrument string) bool {
	key := posKey{bot: botID, instrument: instrument}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, open := l.byKey[key]
	_, pending := l.pending[key]
	return open || pending
}

// BotExposure: открытые позиции бота плюс открывающие ордера на сверке.
// Припаркованный ордер может исполниться, поэтому он занимает слот maxPositions.
func (l *Ledger) BotExposure(botID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, p := range l.positions {
		if p.BotID == botID {
			n++
		}
	}
	for key := range l.pending {
		if key.bot == botID {
			n++
		}
	}
	return n
}

func (l *Ledger) Positions() []models.Position {
	return l.filterPositions(func(*models.Position) bool { return true })
}

func (l *Ledger) BotPositions(botID string) []models.Position {
	return l.filterPositions(func(p *models.Position) bool { return p.BotID == botID })
}

func (l *Ledger) filterPositions(keep func(*models.Position) bool) []models.Position {
	l.mu.RLock()
	out := make([]models.Position, 0)
	for _, p := range l.positions {
		if keep(p) {
			out = append(out, *p)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (l *Ledger) BotTrades(botID string) []models.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Trade, 0)
	for _, t := range l.trades {
		if t.BotID == botID {
			out = append(out, t)
		}
	}
	return out
}

// BotStatistics: сводка по сделкам и открытым позициям бота, для пустого бота нули.
func (l *Ledger) BotStatistics(botID string) models.BotStatistics {
	return Statistics(l.BotTrades(botID), l.BotPositions(botID))
}

// Statistics считает сводку по готовым спискам (бот может торговать в двух ledger).
func Statistics(trades []models.Trade, positions []models.Position) models.BotStatistics {
	var (
		s        models.BotStatistics
		hold     time.Duration
		pctTotal float64
	)
	for i, t := range trades {
		s.TotalTrades++
		s.TotalPnl += t.Pnl
		hold += t.HoldTime
		pctTotal += t.PnlPercent
		switch {
		case t.Pnl > 0:
			s.WinningTrades++
		case t.Pnl < 0:
			s.LosingTrades++
		}
		if i == 0 || t.Pnl > s.BestTrade {
			s.BestTrade = t.Pnl
		}
		if i == 0 || t.Pnl < s.WorstTrade {
			s.WorstTrade = t.Pnl
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnl = s.TotalPnl / float64(s.TotalTrades)
		s.AvgPnlPercent = pctTotal / float64(s.TotalTrades)
		s.AvgHoldTime = hold / time.Duration(s.TotalTrades)
	}
	for _, p := range positions {
		s.OpenPositions++
		s.UnrealizedPnl += p.UnrealizedPnl
	}
	return s
}
