package models

import "time"

// Side как в раннере: "BUY"/"SELL" или пустая строка.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite: сторона закрывающего ордера.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return SideNone
}

type PricePoint struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook: последний снимок стакана, bids и asks отсортированы от лучшей цены.
type OrderBook struct {
	Instrument string      `json:"instrument"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
	Timestamp  time.Time   `json:"timestamp"`
}

type TradeEvent struct {
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

type PriceChange struct {
	Absolute float64 `json:"absolute"`
	Percent  float64 `json:"percent"`
}

type BookSummary struct {
	BidDepth      float64 `json:"bidDepth"`
	AskDepth      float64 `json:"askDepth"`
	BestBid       float64 `json:"bestBid"`
	BestAsk       float64 `json:"bestAsk"`
	Spread        float64 `json:"spread"`
	SpreadPercent float64 `json:"spreadPercent"`
}

type MarketSnapshot struct {
	Instrument   string       `json:"instrument"`
	Price        float64      `json:"price"`
	Timestamp    time.Time    `json:"timestamp"`
	Book         *BookSummary `json:"book,omitempty"`
	RecentTrades []TradeEvent `json:"recentTrades"`
}

// Metric: метрика, из которой собирается MarketCondition.
type Metric uint8

const (
	MetricPrice Metric = 1 << iota
	MetricChange1m
	MetricChange5m
	MetricImbalance
	MetricTradePressure
)

func (m Metric) String() string {
	switch m {
	case MetricPrice:
		return "price"
	case MetricChange1m:
		return "priceChange1m"
	case MetricChange5m:
		return "priceChange5m"
	case MetricImbalance:
		return "orderBookImbalance"
	case MetricTradePressure:
		return "tradePressure"
	}
	return "unknown"
}

// MarketCondition собирается на каждый запрос сигнала и нигде не хранится.
type MarketCondition struct {
	Instrument         string
	Price              float64
	PriceChange1m      float64
	PriceChange5m      float64
	OrderBookImbalance float64
	TradePressure      float64
	Volatility         float64
	Timestamp          time.Time

	available Metric
}

func (c *MarketCondition) SetAvailable(m Metric) { c.available |= m }

func (c MarketCondition) Has(m Metric) bool { return c.available&m == m }
