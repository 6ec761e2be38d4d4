package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"bot_engine/internal/metrics"
	"bot_engine/internal/models"
	ledger "bot_engine/internal/modules/ledger/service"
	strategy "bot_engine/internal/modules/strategy/service"
	"bot_engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Ledger: то, что оркестратор использует у paper и live ledger.
type Ledger interface {
	Mode() models.Mode
	Connected() bool
	OpenPosition(ctx context.Context, req ledger.OpenRequest) (*models.Position, error)
	ClosePosition(ctx context.Context, id, reason string) (*models.Trade, error)
	UpdatePositions(ctx context.Context) ([]models.Trade, error)
	Position(id string) (models.Position, bool)
	HasPosition(botID, instrument string) bool
	BotPositions(botID string) []models.Position
	BotExposure(botID string) int
}

type StrategyFactory interface {
	New(cfg models.StrategyConfig) (strategy.Strategy, error)
}

// Store зеркалит состояние ядра; источник правды: оркестратор.
type Store interface {
	SaveStrategy(ctx context.Context, cfg models.StrategyConfig) error
	SaveBot(ctx context.Context, bot models.BotInstance) error
	SaveTrade(ctx context.Context, trade models.Trade) error
}

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

type Deps struct {
	Factory  StrategyFactory
	Paper    Ledger
	Live     Ledger // nil, если биржа не настроена
	Store    Store
	Notifier Notifier
}

type Options struct {
	TickInterval         time.Duration
	MaxConsecutiveErrors int
	SignalWorkers        int
	Now                  func() time.Time
	// Location: от какой полуночи считать todayPnl
	Location *time.Location
	OnTick   func(time.Time)
}

func (o *Options) setDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = 5
	}
	if o.SignalWorkers <= 0 {
		o.SignalWorkers = 8
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
}

type bot struct {
	mu       sync.Mutex
	inst     models.BotInstance
	cfg      models.StrategyConfig
	strategy strategy.Strategy
	trades   []models.Trade
	lastExec *models.ExecutionResult
}

// Orchestrator держит ботов и гоняет общий тик: сопровождение позиций, потом сигналы.
type Orchestrator struct {
	factory  StrategyFactory
	paper    Ledger
	live     Ledger
	store    Store
	notifier Notifier
	opts     Options

	mu    sync.RWMutex
	bots  map[string]*bot
	order []string

	tickMu sync.Mutex
}

func New(deps Deps, opts Options) *Orchestrator {
	opts.setDefaults()
	o := &Orchestrator{
		factory:  deps.Factory,
		paper:    deps.Paper,
		live:     deps.Live,
		store:    deps.Store,
		notifier: deps.Notifier,
		opts:     opts,
		bots:     make(map[string]*bot),
	}
	if o.store == nil {
		o.store = nopStore{}
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	return o
}

func (o *Orchestrator) now() time.Time { return o.opts.Now() }

func (o *Orchestrator) ledgers() []Ledger {
	if o.live == nil {
		return []Ledger{o.paper}
	}
	return []Ledger{o.paper, o.live}
}

// Deploy валидирует конфигурацию, поднимает стратегию и запускает бота.
func (o *Orchestrator) Deploy(ctx context.Context, cfg models.StrategyConfig) (models.BotInstance, error) {
	cfg = cfg.Clone()
	now := o.now()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	s, err := o.factory.New(cfg)
	if err != nil {
		return models.BotInstance{}, err
	}
	if err := s.Initialize(ctx); err != nil {
		return models.BotInstance{}, errors.Wrapf(err, "initialize strategy %s", cfg.Name)
	}

	b := &bot{
		cfg:      cfg,
		strategy: s,
		inst: models.BotInstance{
			ID:         uuid.NewString(),
			Name:       cfg.Name,
			StrategyID: cfg.ID,
			Status:     models.BotRunning,
			Mode:       cfg.Mode,
			StartedAt:  now,
		},
	}

	o.mu.Lock()
	o.bots[b.inst.ID] = b
	o.order = append(o.order, b.inst.ID)
	o.mu.Unlock()

	b.mu.Lock()
	o.persistLocked(ctx, b)
	view := o.viewLocked(b)
	b.mu.Unlock()

	if err := o.store.SaveStrategy(ctx, cfg); err != nil {
		logger.Warn("[RUNNER] save strategy %s: %v", cfg.ID, err)
	}
	o.reportBots()
	logger.Info("[RUNNER] deployed bot %s (%s, %s, %s) pairs=%v", view.ID, cfg.Name, cfg.Type, cfg.Mode, cfg.Pairs)
	o.notifier.Sendf("🚀 Бот %s запущен: %s, %s, пары %v", cfg.Name, cfg.Type, cfg.Mode, cfg.Pairs)
	return view, nil
}

var transitions = map[models.BotStatus][]models.BotStatus{
	models.BotRunning: {models.BotPaused, models.BotStopped, models.BotError},
	models.BotPaused:  {models.BotRunning, models.BotStopped},
	models.BotError:   {models.BotStopped},
}

// CanTransition: разрешён ли переход статуса.
func CanTransition(from, to models.BotStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (o *Orchestrator) lookup(id string) (*bot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.bots[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "bot %s", id)
	}
	return b, nil
}

func (o *Orchestrator) Pause(ctx context.Context, id string) (models.BotInstance, error) {
	return o.transition(ctx, id, models.BotPaused)
}

func (o *Orchestrator) Resume(ctx context.Context, id string) (models.BotInstance, error) {
	return o.transition(ctx, id, models.BotRunning)
}

func (o *Orchestrator) transition(ctx context.Context, id string, to models.BotStatus) (models.BotInstance, error) {
	b, err := o.lookup(id)
	if err != nil {
		return models.BotInstance{}, err
	}
	b.mu.Lock()
	from := b.inst.Status
	if !CanTransition(from, to) {
		b.mu.Unlock()
		return models.BotInstance{}, errors.Wrapf(models.ErrIllegalTransition, "%s -> %s", from, to)
	}
	b.inst.Status = to
	o.persistLocked(ctx, b)
	view := o.viewLocked(b)
	b.mu.Unlock()

	o.reportBots()
	logger.Info("[RUNNER] bot %s: %s -> %s", id, from, to)
	o.notifier.Sendf("ℹ️ Бот %s: %s → %s", b.cfg.Name, from, to)
	return view, nil
}

// Stop закрывает все позиции бота с причиной "Bot stopped" и освобождает стратегию.
// Позиции, которые закрыть не удалось, остаются под контролем SL/TP ledger.
func (o *Orchestrator) Stop(ctx context.Context, id string) (models.BotInstance, error) {
	b, err := o.lookup(id)
	if err != nil {
		return models.BotInstance{}, err
	}
	b.mu.Lock()
	from := b.inst.Status
	if !CanTransition(from, models.BotStopped) {
		b.mu.Unlock()
		return models.BotInstance{}, errors.Wrapf(models.ErrIllegalTransition, "%s -> %s", from, models.BotStopped)
	}

	var errs error
	for _, l := range o.ledgers() {
		for _, pos := range l.BotPositions(id) {
			trade, err := l.ClosePosition(ctx, pos.ID, models.ReasonBotStopped)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			o.recordTradeLocked(ctx, b, *trade)
		}
	}
	if errs != nil {
		b.inst.LastError = errs.Error()
		logger.Error("[RUNNER] bot %s stop: not all positions closed: %v", id, errs)
	}

	b.strategy.Cleanup()
	b.inst.Status = models.BotStopped
	o.persistLocked(ctx, b)
	view := o.viewLocked(b)
	b.mu.Unlock()

	o.reportBots()
	logger.Info("[RUNNER] bot %s: %s -> stopped", id, from)
	o.notifier.Sendf("⏹ Бот %s остановлен", b.cfg.Name)
	return view, nil
}

func (o *Orchestrator) snapshot() []*bot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*bot, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.bots[id])
	}
	return out
}

// Bots: все боты в порядке развёртывания.
func (o *Orchestrator) Bots() []models.BotInstance {
	list := o.snapshot()
	out := make([]models.BotInstance, 0, len(list))
	for _, b := range list {
		b.mu.Lock()
		out = append(out, o.viewLocked(b))
		b.mu.Unlock()
	}
	return out
}

func (o *Orchestrator) Bot(id string) (models.BotInstance, error) {
	b, err := o.lookup(id)
	if err != nil {
		return models.BotInstance{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return o.viewLocked(b), nil
}

// Strategy: конфигурация и описание стратегии бота.
func (o *Orchestrator) Strategy(id string) (models.StrategyConfig, strategy.Description, error) {
	b, err := o.lookup(id)
	if err != nil {
		return models.StrategyConfig{}, strategy.Description{}, err
	}
	return b.cfg.Clone(), b.strategy.Describe(), nil
}

func (o *Orchestrator) BotPositions(id string) ([]models.Position, error) {
	if _, err := o.lookup(id); err != nil {
		return nil, err
	}
	return o.positions(id), nil
}

func (o *Orchestrator) BotTrades(id string) ([]models.Trade, error) {
	b, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Trade{}, b.trades...), nil
}

func (o *Orchestrator) BotStatistics(id string) (models.BotStatistics, error) {
	b, err := o.lookup(id)
	if err != nil {
		return models.BotStatistics{}, err
	}
	b.mu.Lock()
	trades := append([]models.Trade(nil), b.trades...)
	b.mu.Unlock()
	return ledger.Statistics(trades, o.positions(id)), nil
}

// LastExecution: результат последнего исполненного сигнала бота.
func (o *Orchestrator) LastExecution(id string) (models.ExecutionResult, bool) {
	b, err := o.lookup(id)
	if err != nil {
		return models.ExecutionResult{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastExec == nil {
		return models.ExecutionResult{}, false
	}
	return *b.lastExec, true
}

// positions: открытые позиции бота во всех ledger. Live-бот после fallback держит
// позиции и в paper.
func (o *Orchestrator) positions(botID string) []models.Position {
	out := make([]models.Position, 0)
	for _, l := range o.ledgers() {
		out = append(out, l.BotPositions(botID)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// exposure: позиции и припаркованные открытия бота во всех ledger.
func (o *Orchestrator) exposure(botID string) int {
	n := 0
	for _, l := range o.ledgers() {
		n += l.BotExposure(botID)
	}
	return n
}

func (o *Orchestrator) viewLocked(b *bot) models.BotInstance {
	v := b.inst
	v.Positions = o.positions(b.inst.ID)
	v.Performance = performance(b.trades, o.now().In(o.opts.Location))
	return v
}

func (o *Orchestrator) persistLocked(ctx context.Context, b *bot) {
	if err := o.store.SaveBot(ctx, o.viewLocked(b)); err != nil {
		logger.Warn("[RUNNER] save bot %s: %v", b.inst.ID, err)
	}
}

func (o *Orchestrator) reportBots() {
	counts := map[models.BotStatus]int{
		models.BotRunning: 0,
		models.BotPaused:  0,
		models.BotStopped: 0,
		models.BotError:   0,
	}
	for _, b := range o.snapshot() {
		b.mu.Lock()
		counts[b.inst.Status]++
		b.mu.Unlock()
	}
	for st, n := range counts {
		metrics.SetBots(string(st), n)
	}
}

type nopStore struct{}

func (nopStore) SaveStrategy(context.Context, models.StrategyConfig) error { return nil }
func (nopStore) SaveBot(context.Context, models.BotInstance) error        { return nil }
func (nopStore) SaveTrade(context.Context, models.Trade) error           { return nil }

type nopNotifier struct{}

func (nopNotifier) Send(string)          {}
func (nopNotifier) Sendf(string, ...any) {}
