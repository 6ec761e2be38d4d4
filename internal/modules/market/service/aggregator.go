package service

import (
	"sort"
	"sync"
	"time"

	"bot_engine/internal/models"
	"bot_engine/pkg/logger"
)

// Handlers: push-колбэки, которые фид вызывает на каждое событие инструмента.
type Handlers struct {
	OnPrice     func(models.PricePoint)
	OnOrderBook func(models.OrderBook)
	OnTrade     func(models.TradeEvent)
}

// Feed: внешний источник рыночных данных.
type Feed interface {
	Subscribe(instrument string, h Handlers) error
	Unsubscribe(instrument string) error
	Connected() bool
}

type Options struct {
	PriceMaxAge     time.Duration
	PriceMaxSamples int
	TradeMaxSamples int
	Now             func() time.Time
}

func (o *Options) withDefaults() {
	if o.PriceMaxAge <= 0 {
		o.PriceMaxAge = time.Hour
	}
	if o.PriceMaxSamples <= 0 {
		o.PriceMaxSamples = 1000
	}
	if o.TradeMaxSamples <= 0 {
		o.TradeMaxSamples = 100
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// instrumentState: арена одного инструмента. Пишет только фид, читают стратегии.
type instrumentState struct {
	mu     sync.RWMutex
	prices []models.PricePoint
	book   *models.OrderBook
	trades []models.TradeEvent
}

// Aggregator держит скользящие окна по подписанным инструментам.
type Aggregator struct {
	opts Options
	feed Feed

	mu          sync.RWMutex
	instruments map[string]*instrumentState
	owners      map[string]map[string]struct{} // instrument -> owners
}

func NewAggregator(feed Feed, opts Options) *Aggregator {
	opts.withDefaults()
	return &Aggregator{
		opts:        opts,
		feed:        feed,
		instruments: make(map[string]*instrumentState),
		owners:      make(map[string]map[string]struct{}),
	}
}

// Subscribe создаёт арену инструмента и подключает фид. Повторный вызов ничего не меняет.
func (a *Aggregator) Subscribe(instrument string) {
	a.mu.Lock()
	if _, ok := a.instruments[instrument]; ok {
		a.mu.Unlock()
		return
	}
	a.instruments[instrument] = &instrumentState{}
	a.mu.Unlock()

	if a.feed == nil {
		return
	}
	err := a.feed.Subscribe(instrument, Handlers{
		OnPrice:     func(p models.PricePoint) { a.OnPrice(instrument, p.Price, p.Timestamp) },
		OnOrderBook: a.OnOrderBook,
		OnTrade:     a.OnTrade,
	})
	if err != nil {
		logger.Error("[MARKET] feed subscribe %s: %v", instrument, err)
	}
}

// Unsubscribe выбрасывает всё накопленное состояние инструмента.
func (a *Aggregator) Unsubscribe(instrument string) {
	a.mu.Lock()
	if _, ok := a.instruments[instrument]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.instruments, instrument)
	delete(a.owners, instrument)
	a.mu.Unlock()

	if a.feed == nil {
		return
	}
	if err := a.feed.Unsubscribe(instrument); err != nil {
		logger.Error("[MARKET] feed unsubscribe %s: %v", instrument, err)
	}
}

// Retain подписывает инструмент от имени owner. Первый владелец открывает подписку.
func (a *Aggregator) Retain(owner, instrument string) {
	a.mu.Lock()
	set, ok := a.owners[instrument]
	if !ok {
		set = make(map[string]struct{})
		a.owners[instrument] = set
	}
	set[owner] = struct{}{}
	a.mu.Unlock()

	a.Subscribe(instrument)
}

// Release снимает owner. Последний владелец закрывает подписку.
func (a *Aggregator) Release(owner, instrument string) {
	a.mu.Lock()
	set, ok := a.owners[instrument]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(set, owner)
	last := len(set) == 0
	a.mu.Unlock()

	if last {
		a.Unsubscribe(instrument)
	}
}

func (a *Aggregator) Subscribed(instrument string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.instruments[instrument]
	return ok
}

func (a *Aggregator) Instruments() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.instruments))
	for k := range a.instruments {
		out = append(out, k)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Connected: состояние фида; без фида считаем, что данные подаются вручную.
func (a *Aggregator) Connected() bool {
	if a.feed == nil {
		return true
	}
	return a.feed.Connected()
}

func (a *Aggregator) state(instrument string) (*instrumentState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.instruments[instrument]
	return st, ok
}

// OnPrice добавляет цену. Точки старее последней отбрасываются, затем окно
// режется по возрасту и по количеству.
func (a *Aggregator) OnPrice(instrument string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	st, ok := a.state(instrument)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if n := len(st.prices); n > 0 && ts.Before(st.prices[n-1].Timestamp) {
		return
	}
	st.prices = append(st.prices, models.PricePoint{Instrument: instrument, Price: price, Timestamp: ts})
	a.pruneLocked(st)
}

// pruneLocked режет окно сначала по возрасту относительно последней точки, потом по количеству.
func (a *Aggregator) pruneLocked(st *instrumentState) {
	n := len(st.prices)
	if n == 0 {
		return
	}
	cutoff := st.prices[n-1].Timestamp.Add(-a.opts.PriceMaxAge)
	drop := 0
	for drop < n && st.prices[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if extra := n - drop - a.opts.PriceMaxSamples; extra > 0 {
		drop += extra
	}
	if drop > 0 {
		st.prices = append(st.prices[:0:0], st.prices[drop:]...)
	}
}

// Backfill подкладывает историю (закрытия свечей с REST) перед накопленными
// точками. Точки не старше первой накопленной пропускаются. Возвращает число добавленных.
func (a *Aggregator) Backfill(instrument string, points []models.PricePoint) int {
	st, ok := a.state(instrument)
	if !ok {
		return 0
	}
	sorted := append([]models.PricePoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	st.mu.Lock()
	defer st.mu.Unlock()

	head := make([]models.PricePoint, 0, len(sorted))
	for _, p := range sorted {
		if p.Price <= 0 {
			continue
		}
		if len(st.prices) > 0 && !p.Timestamp.Before(st.prices[0].Timestamp) {
			break
		}
		if k := len(head); k > 0 && !p.Timestamp.After(head[k-1].Timestamp) {
			continue
		}
		p.Instrument = instrument
		head = append(head, p)
	}
	if len(head) == 0 {
		return 0
	}
	st.prices = append(head, st.prices...)
	before := len(st.prices)
	a.pruneLocked(st)
	added := len(head) - (before - len(st.prices))
	if added < 0 {
		added = 0
	}
	return added
}

// OnOrderBook заменяет снимок стакана целиком.
func (a *Aggregator) OnOrderBook(book models.OrderBook) {
	st, ok := a.state(book.Instrument)
	if !ok {
		return
	}
	cp := models.OrderBook{
		Instrument: book.Instrument,
		Bids:       append([]models.BookLevel(nil), book.Bids...),
		Asks:       append([]models.BookLevel(nil), book.Asks...),
		Timestamp:  book.Timestamp,
	}

	st.mu.Lock()
	st.book = &cp
	st.mu.Unlock()
}

func (a *Aggregator) OnTrade(trade models.TradeEvent) {
	if trade.Size <= 0 {
		return
	}
	st, ok := a.state(trade.Instrument)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.trades = append(st.trades, trade)
	if extra := len(st.trades) - a.opts.TradeMaxSamples; extra > 0 {
		st.trades = append(st.trades[:0:0], st.trades[extra:]...)
	}
}
