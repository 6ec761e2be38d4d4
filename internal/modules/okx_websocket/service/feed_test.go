package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bot_engine/internal/models"
	market "bot_engine/internal/modules/market/service"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	prices []models.PricePoint
	books  []models.OrderBook
	trades []models.TradeEvent
}

func (r *recorder) handlers() market.Handlers {
	return market.Handlers{
		OnPrice: func(p models.PricePoint) {
			r.mu.Lock()
			r.prices = append(r.prices, p)
			r.mu.Unlock()
		},
		OnOrderBook: func(b models.OrderBook) {
			r.mu.Lock()
			r.books = append(r.books, b)
			r.mu.Unlock()
		},
		OnTrade: func(t models.TradeEvent) {
			r.mu.Lock()
			r.trades = append(r.trades, t)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) priceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prices)
}

func newTestFeed() *Feed {
	return NewFeed(Config{URL: "ws://unused", InstSuffix: "-USDT-SWAP"})
}

func TestDispatchTicker(t *testing.T) {
	f := newTestFeed()
	rec := &recorder{}
	require.NoError(t, f.Subscribe("BTC", rec.handlers()))

	f.dispatch([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","last":"43000.5","ts":"1772452800000"}]}`))

	require.Len(t, rec.prices, 1)
	assert.Equal(t, "BTC", rec.prices[0].Instrument)
	assert.Equal(t, 43000.5, rec.prices[0].Price)
	assert.Equal(t, time.UnixMilli(1772452800000), rec.prices[0].Timestamp)
}

func TestDispatchBookAndTrades(t *testing.T) {
	f := newTestFeed()
	rec := &recorder{}
	require.NoError(t, f.Subscribe("ETH", rec.handlers()))

	f.dispatch([]byte(`{"arg":{"channel":"books5","instId":"ETH-USDT-SWAP"},"data":[{"asks":[["2001","3","0","1"],["2002","4","0","2"]],"bids":[["2000","5","0","1"],["bad","1","0","1"]],"instId":"ETH-USDT-SWAP","ts":"1772452800000"}]}`))
	require.Len(t, rec.books, 1)
	book := rec.books[0]
	assert.Equal(t, "ETH", book.Instrument)
	assert.Equal(t, []models.BookLevel{{Price: 2001, Size: 3}, {Price: 2002, Size: 4}}, book.Asks)
	assert.Equal(t, []models.BookLevel{{Price: 2000, Size: 5}}, book.Bids)

	f.dispatch([]byte(`{"arg":{"channel":"trades","instId":"ETH-USDT-SWAP"},"data":[{"instId":"ETH-USDT-SWAP","tradeId":"1","px":"2000.5","sz":"0.3","side":"sell","ts":"1772452800001"},{"instId":"ETH-USDT-SWAP","tradeId":"2","px":"2000.6","sz":"1.2","side":"buy","ts":"1772452800002"}]}`))
	require.Len(t, rec.trades, 2)
	assert.Equal(t, models.SideSell, rec.trades[0].Side)
	assert.Equal(t, 0.3, rec.trades[0].Size)
	assert.Equal(t, models.SideBuy, rec.trades[1].Side)
	assert.Equal(t, 2000.6, rec.trades[1].Price)
}

func TestDispatchIgnoresNoise(t *testing.T) {
	f := newTestFeed()
	rec := &recorder{}
	require.NoError(t, f.Subscribe("BTC", rec.handlers()))

	f.dispatch([]byte("pong"))
	f.dispatch([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"}}`))
	f.dispatch([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
	f.dispatch([]byte(`not json`))
	f.dispatch([]byte(`{"arg":{"channel":"tickers","instId":"SOL-USDT-SWAP"},"data":[{"last":"100","ts":"1"}]}`))
	f.dispatch([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"last":"0","ts":"1"}]}`))

	assert.Zero(t, rec.priceCount())

	require.NoError(t, f.Unsubscribe("BTC"))
	f.dispatch([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"last":"100","ts":"1"}]}`))
	assert.Zero(t, rec.priceCount())
}

func TestArgsCoverAllChannels(t *testing.T) {
	f := newTestFeed()
	args := f.args("BTC", "ETH")
	require.Len(t, args, 6)
	assert.Equal(t, subArg{Channel: "tickers", InstID: "BTC-USDT-SWAP"}, args[0])
	assert.Equal(t, subArg{Channel: "trades", InstID: "ETH-USDT-SWAP"}, args[5])
}

func TestRunSubscribesAndStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan request, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if sonic.Unmarshal(msg, &req) == nil {
			subscribed <- req
		}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"last":"42000","ts":"1772452800000"}]}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	f := NewFeed(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), InstSuffix: "-USDT-SWAP"})
	states := make(chan bool, 8)
	f.OnStateChange(func(v bool) { states <- v })

	rec := &recorder{}
	require.NoError(t, f.Subscribe("BTC", rec.handlers()))
	assert.False(t, f.Connected())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	select {
	case req := <-subscribed:
		assert.Equal(t, "subscribe", req.Op)
		assert.Len(t, req.Args, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe request")
	}

	require.Eventually(t, func() bool { return rec.priceCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.Connected())
	assert.True(t, <-states)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.False(t, f.Connected())
}

func TestHistoryCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/candles", r.URL.Path)
		assert.Equal(t, "BTC-USDT-SWAP", r.URL.Query().Get("instId"))
		assert.Equal(t, "1m", r.URL.Query().Get("bar"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700000120000","3","3","3","103","1","1","1","0"],
			["1700000060000","2","2","2","102","1","1","1","1"],
			["1700000000000","1","1","1","101","1","1","1","1"]
		]}`))
	}))
	defer srv.Close()

	h := NewHistory(srv.URL+"/", "-USDT-SWAP")
	points, err := h.Closes(context.Background(), "BTC", "1m", 3)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 101.0, points[0].Price)
	assert.Equal(t, 102.0, points[1].Price)
	assert.Equal(t, time.UnixMilli(1700000060000), points[0].Timestamp)
	assert.Equal(t, "BTC", points[0].Instrument)
}

func TestHistoryErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	}))
	defer srv.Close()

	_, err := NewHistory(srv.URL, "-USDT-SWAP").Closes(context.Background(), "NOPE", "1m", 10)
	assert.Error(t, err)

	_, err = NewHistory(srv.URL, "").Closes(context.Background(), "BTC", "7m", 10)
	assert.Error(t, err)
}

func TestOkxBarNormalizesCase(t *testing.T) {
	b, err := okxBar(" 4H ")
	require.NoError(t, err)
	assert.Equal(t, "4H", b.name)
	assert.Equal(t, 4*time.Hour, b.span)

	b, err = okxBar("15m")
	require.NoError(t, err)
	assert.Equal(t, "15m", b.name)
}
