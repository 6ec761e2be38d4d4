package service

import (
	"math"
	"sort"
	"time"

	"bot_engine/internal/models"

	"github.com/pkg/errors"
)

const (
	volatilityStep    = time.Minute
	volatilitySamples = 10
)

func unavailable(instrument, what string) error {
	return errors.Wrapf(models.ErrDataUnavailable, "%s %s", instrument, what)
}

// CurrentPrice: последняя цена инструмента.
func (a *Aggregator) CurrentPrice(instrument string) (float64, error) {
	st, ok := a.state(instrument)
	if !ok {
		return 0, unavailable(instrument, "not subscribed")
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if len(st.prices) == 0 {
		return 0, unavailable(instrument, "no price")
	}
	return st.prices[len(st.prices)-1].Price, nil
}

// Snapshot: последняя цена, сводка стакана и последние сделки.
func (a *Aggregator) Snapshot(instrument string) (models.MarketSnapshot, error) {
	st, ok := a.state(instrument)
	if !ok {
		return models.MarketSnapshot{}, unavailable(instrument, "not subscribed")
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if len(st.prices) == 0 {
		return models.MarketSnapshot{}, unavailable(instrument, "no price")
	}
	last := st.prices[len(st.prices)-1]
	snap := models.MarketSnapshot{
		Instrument:   instrument,
		Price:        last.Price,
		Timestamp:    last.Timestamp,
		RecentTrades: append([]models.TradeEvent(nil), st.trades...),
	}

	if st.book != nil && len(st.book.Bids) > 0 && len(st.book.Asks) > 0 {
		sum := &models.BookSummary{
			BestBid: st.book.Bids[0].Price,
			BestAsk: st.book.Asks[0].Price,
		}
		for _, l := range st.book.Bids {
			sum.BidDepth += l.Size
		}
		for _, l := range st.book.Asks {
			sum.AskDepth += l.Size
		}
		sum.Spread = sum.BestAsk - sum.BestBid
		if mid := (sum.BestAsk + sum.BestBid) / 2; mid > 0 {
			sum.SpreadPercent = sum.Spread / mid * 100
		}
		snap.Book = sum
	}
	return snap, nil
}

// indexAsOf: индекс последней точки с Timestamp <= t, -1 если такой нет.
func indexAsOf(prices []models.PricePoint, t time.Time) int {
	i := sort.Search(len(prices), func(i int) bool {
		return prices[i].Timestamp.After(t)
	})
	return i - 1
}

// PriceChange сравнивает последнюю цену с ценой на начало окна (последняя точка
// не позже now-window). Нужны минимум две точки, покрывающие окно.
func (a *Aggregator) PriceChange(instrument string, window time.Duration) (models.PriceChange, error) {
	st, ok := a.state(instrument)
	if !ok {
		return models.PriceChange{}, unavailable(instrument, "not subscribed")
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	n := len(st.prices)
	if n < 2 {
		return models.PriceChange{}, unavailable(instrument, "not enough prices")
	}
	base := indexAsOf(st.prices, a.opts.Now().Add(-window))
	if base < 0 || base == n-1 {
		return models.PriceChange{}, unavailable(instrument, "history does not span window")
	}

	from := st.prices[base].Price
	to := st.prices[n-1].Price
	return models.PriceChange{
		Absolute: to - from,
		Percent:  (to - from) / from * 100,
	}, nil
}

// OrderBookImbalance: сумма объёмов топ-depth бидов к сумме топ-depth асков.
func (a *Aggregator) OrderBookImbalance(instrument string, depth int) (float64, error) {
	st, ok := a.state(instrument)
	if !ok {
		return 0, unavailable(instrument, "not subscribed")
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.book == nil {
		return 0, unavailable(instrument, "no order book")
	}
	bids := sumTop(st.book.Bids, depth)
	asks := sumTop(st.book.Asks, depth)
	if asks == 0 {
		return 0, unavailable(instrument, "empty ask side")
	}
	return bids / asks, nil
}

func sumTop(levels []models.BookLevel, depth int) float64 {
	if depth <= 0 || depth > len(levels) {
		depth = len(levels)
	}
	var s float64
	for _, l := range levels[:depth] {
		s += l.Size
	}
	return s
}

// TradePressure: (buy-sell)/total по объёму последних lookback сделок, в [-1, 1].
func (a *Aggregator) TradePressure(instrument string, lookback int) (float64, error) {
	st, ok := a.state(instrument)
	if !ok {
		return 0, unavailable(instrument, "not subscribed")
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if lookback <= 0 || len(st.trades) < lookback {
		return 0, unavailable(instrument, "not enough trades")
	}
	var buy, sell float64
	for _, t := range st.trades[len(st.trades)-lookback:] {
		switch t.Side {
		case models.SideBuy:
			buy += t.Size
		case models.SideSell:
			sell += t.Size
		}
	}
	total := buy + sell
	if total == 0 {
		return 0, unavailable(instrument, "zero trade volume")
	}
	return (buy - sell) / total, nil
}

// Volatility: стандартное отклонение |%изменения| между ценами с шагом в минуту
// за последние 10 минут. 0, если изменений меньше двух.
func (a *Aggregator) Volatility(instrument string) float64 {
	st, ok := a.state(instrument)
	if !ok {
		return 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := a.opts.Now()
	changes := make([]float64, 0, volatilitySamples)
	for k := 0; k < volatilitySamples; k++ {
		cur := indexAsOf(st.prices, now.Add(-time.Duration(k)*volatilityStep))
		prev := indexAsOf(st.prices, now.Add(-time.Duration(k+1)*volatilityStep))
		if cur < 0 || prev < 0 {
			break
		}
		p0 := st.prices[prev].Price
		changes = append(changes, math.Abs((st.prices[cur].Price-p0)/p0*100))
	}
	if len(changes) < 2 {
		return 0
	}
	return stddev(changes)
}

func stddev(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return math.Sqrt(v / float64(len(xs)))
}

// PriceHistory: копия точек за последние window (от now).
func (a *Aggregator) PriceHistory(instrument string, window time.Duration) []models.PricePoint {
	st, ok := a.state(instrument)
	if !ok {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	cutoff := a.opts.Now().Add(-window)
	i := sort.Search(len(st.prices), func(i int) bool {
		return !st.prices[i].Timestamp.Before(cutoff)
	})
	return append([]models.PricePoint(nil), st.prices[i:]...)
}

// HistorySpan: насколько далеко в прошлое от now уходит история цен.
func (a *Aggregator) HistorySpan(instrument string) time.Duration {
	st, ok := a.state(instrument)
	if !ok {
		return 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	if len(st.prices) == 0 {
		return 0
	}
	return a.opts.Now().Sub(st.prices[0].Timestamp)
}

// RecentTrades: копия хранимых сделок, от старых к новым.
func (a *Aggregator) RecentTrades(instrument string) []models.TradeEvent {
	st, ok := a.state(instrument)
	if !ok {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]models.TradeEvent(nil), st.trades...)
}
