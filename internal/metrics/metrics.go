package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_engine_tick_total",
			Help: "Total number of orchestrator ticks",
		},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_engine_tick_duration_seconds",
			Help:    "Orchestrator tick duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
	)

	signalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_engine_signal_total",
			Help: "Non-empty trading signals by strategy type and direction",
		},
		[]string{"strategy", "type"},
	)

	openPositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_engine_open_positions",
			Help: "Open positions by ledger mode",
		},
		[]string{"mode"},
	)

	tradeClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_engine_trade_closed_total",
			Help: "Closed positions by ledger mode and close reason",
		},
		[]string{"mode", "reason"},
	)

	tradePnl = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_engine_trade_pnl_abs_total",
			Help: "Sum of absolute realized pnl by ledger mode and sign",
		},
		[]string{"mode", "sign"},
	)

	executionErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_engine_execution_error_total",
			Help: "Failed open/close attempts by ledger mode and error kind",
		},
		[]string{"mode", "kind"},
	)

	paperFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_engine_paper_fallback_total",
			Help: "Live signals executed on the paper ledger because the exchange was not connected",
		},
	)

	botsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_engine_bots",
			Help: "Deployed bots by status",
		},
		[]string{"status"},
	)

	orderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_engine_exchange_request_duration_seconds",
			Help:    "Exchange REST request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"endpoint", "result"},
	)
)

func ObserveTick(d time.Duration) {
	tickTotal.Inc()
	tickDuration.Observe(d.Seconds())
}

func SignalGenerated(strategy, signalType string) {
	signalTotal.WithLabelValues(strategy, signalType).Inc()
}

func SetOpenPositions(mode string, n int) {
	openPositions.WithLabelValues(mode).Set(float64(n))
}

func TradeClosed(mode, reason string, pnl float64) {
	tradeClosedTotal.WithLabelValues(mode, reason).Inc()
	if pnl >= 0 {
		tradePnl.WithLabelValues(mode, "profit").Add(pnl)
	} else {
		tradePnl.WithLabelValues(mode, "loss").Add(-pnl)
	}
}

func ExecutionFailed(mode, kind string) {
	executionErrorTotal.WithLabelValues(mode, kind).Inc()
}

func PaperFallback() {
	paperFallbackTotal.Inc()
}

func SetBots(status string, n int) {
	botsByStatus.WithLabelValues(status).Set(float64(n))
}

func ObserveRequest(endpoint, result string, d time.Duration) {
	orderDuration.WithLabelValues(endpoint, result).Observe(d.Seconds())
}
