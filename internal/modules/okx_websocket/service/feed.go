package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bot_engine/internal/models"
	market "bot_engine/internal/modules/market/service"
	"bot_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// каналы, на которые подписывается каждый инструмент
var channels = []string{"tickers", "books5", "trades"}

type Config struct {
	URL            string
	InstSuffix     string // "BTC" + "-USDT-SWAP" = instId OKX
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type request struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args,omitempty"`
}

// Feed: публичный WebSocket OKX (цены, стакан top-5, лента сделок).
// Подписки переживают переподключение.
type Feed struct {
	cfg    Config
	dialer *websocket.Dialer

	mu   sync.RWMutex
	subs map[string]market.Handlers // instrument -> handlers

	writeMu sync.Mutex
	conn    *websocket.Conn

	connected atomic.Bool
	onState   func(bool)
}

func NewFeed(cfg Config) *Feed {
	if cfg.PingInterval <= 0 {
		// OKX рвёт соединение через 30s тишины
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &Feed{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:   make(map[string]market.Handlers),
	}
}

// OnStateChange: колбэк на подключение/отключение (health).
func (f *Feed) OnStateChange(fn func(connected bool)) { f.onState = fn }

func (f *Feed) Connected() bool { return f.connected.Load() }

func (f *Feed) setConnected(v bool) {
	f.connected.Store(v)
	if f.onState != nil {
		f.onState(v)
	}
}

func (f *Feed) instID(instrument string) string { return instrument + f.cfg.InstSuffix }

func (f *Feed) instrument(instID string) string {
	return strings.TrimSuffix(instID, f.cfg.InstSuffix)
}

func (f *Feed) args(instruments ...string) []subArg {
	out := make([]subArg, 0, len(instruments)*len(channels))
	for _, inst := range instruments {
		for _, ch := range channels {
			out = append(out, subArg{Channel: ch, InstID: f.instID(inst)})
		}
	}
	return out
}

// Subscribe регистрирует обработчики. Без соединения подписка уйдёт при подключении.
func (f *Feed) Subscribe(instrument string, h market.Handlers) error {
	f.mu.Lock()
	f.subs[instrument] = h
	f.mu.Unlock()
	return f.send(request{Op: "subscribe", Args: f.args(instrument)})
}

func (f *Feed) Unsubscribe(instrument string) error {
	f.mu.Lock()
	_, ok := f.subs[instrument]
	delete(f.subs, instrument)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return f.send(request{Op: "unsubscribe", Args: f.args(instrument)})
}

func (f *Feed) send(req request) error {
	b, err := sonic.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal ws request")
	}
	return f.write(b)
}

func (f *Feed) write(b []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.conn == nil {
		return nil
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return f.conn.WriteMessage(websocket.TextMessage, b)
}

// Run держит соединение до отмены ctx, переподключаясь после обрыва.
func (f *Feed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.session(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("[WS] %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", f.cfg.URL)
	}

	f.writeMu.Lock()
	f.conn = conn
	f.writeMu.Unlock()
	defer func() {
		f.writeMu.Lock()
		f.conn = nil
		f.writeMu.Unlock()
		_ = conn.Close()
		f.setConnected(false)
	}()

	f.mu.RLock()
	instruments := make([]string, 0, len(f.subs))
	for inst := range f.subs {
		instruments = append(instruments, inst)
	}
	f.mu.RUnlock()
	if len(instruments) > 0 {
		if err := f.send(request{Op: "subscribe", Args: f.args(instruments...)}); err != nil {
			return errors.Wrap(err, "resubscribe")
		}
	}
	f.setConnected(true)
	logger.Info("[WS] connected %s, instruments=%d", f.cfg.URL, len(instruments))

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(f.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-t.C:
				if err := f.write([]byte("ping")); err != nil {
					logger.Warn("[WS] ping: %v", err)
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		f.dispatch(msg)
	}
}

type frame struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   subArg          `json:"arg"`
	Data  json.RawMessage `json:"data"`
}

type tickerRow struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

type bookRow struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	Ts   string     `json:"ts"`
}

type tradeRow struct {
	InstID string `json:"instId"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"`
	Ts     string `json:"ts"`
}

// dispatch разбирает кадр OKX и раздаёт события обработчикам инструмента.
func (f *Feed) dispatch(msg []byte) {
	if string(msg) == "pong" {
		return
	}
	var fr frame
	if err := sonic.Unmarshal(msg, &fr); err != nil {
		logger.Debug("[WS] bad frame: %v", err)
		return
	}
	if fr.Event != "" {
		if fr.Event == "error" {
			logger.Warn("[WS] okx error %s: %s", fr.Code, fr.Msg)
		}
		return
	}
	if len(fr.Data) == 0 {
		return
	}

	instrument := f.instrument(fr.Arg.InstID)
	f.mu.RLock()
	h, ok := f.subs[instrument]
	f.mu.RUnlock()
	if !ok {
		return
	}

	switch fr.Arg.Channel {
	case "tickers":
		var rows []tickerRow
		if err := sonic.Unmarshal(fr.Data, &rows); err != nil {
			return
		}
		for _, r := range rows {
			px, err := strconv.ParseFloat(r.Last, 64)
			if err != nil || px <= 0 || h.OnPrice == nil {
				continue
			}
			h.OnPrice(models.PricePoint{Instrument: instrument, Price: px, Timestamp: parseMillis(r.Ts)})
		}
	case "books5":
		var rows []bookRow
		if err := sonic.Unmarshal(fr.Data, &rows); err != nil {
			return
		}
		for _, r := range rows {
			if h.OnOrderBook == nil {
				continue
			}
			h.OnOrderBook(models.OrderBook{
				Instrument: instrument,
				Bids:       levels(r.Bids),
				Asks:       levels(r.Asks),
				Timestamp:  parseMillis(r.Ts),
			})
		}
	case "trades":
		var rows []tradeRow
		if err := sonic.Unmarshal(fr.Data, &rows); err != nil {
			return
		}
		for _, r := range rows {
			sz, err := strconv.ParseFloat(r.Sz, 64)
			if err != nil || h.OnTrade == nil {
				continue
			}
			px, _ := strconv.ParseFloat(r.Px, 64)
			side := models.SideBuy
			if r.Side == "sell" {
				side = models.SideSell
			}
			h.OnTrade(models.TradeEvent{
				Instrument: instrument,
				Side:       side,
				Size:       sz,
				Price:      px,
				Timestamp:  parseMillis(r.Ts),
			})
		}
	}
}

// levels: строка OKX [px, sz, deprecated, orders]
func levels(rows [][]string) []models.BookLevel {
	out := make([]models.BookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		px, err1 := strconv.ParseFloat(row[0], 64)
		sz, err2 := strconv.ParseFloat(row[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, models.BookLevel{Price: px, Size: sz})
	}
	return out
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
