package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bot_engine/internal/metrics"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	TdMode     string // cross / isolated
	InstSuffix string
	RateLimit  float64 // запросов в секунду
	RateBurst  int
	PollEvery  time.Duration
}

// Client: приватный REST OKX (рыночные ордера и их статус).
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	down atomic.Bool

	metaMu sync.RWMutex
	meta   map[string]Instrument
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.okx.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TdMode == "" {
		cfg.TdMode = "cross"
	}
	if cfg.RateLimit <= 0 {
		// лимит OKX на /trade/order: 60 запросов за 2 секунды
		cfg.RateLimit = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 200 * time.Millisecond
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		meta:    make(map[string]Instrument),
	}
}

// Connected: ключи заданы и последний запрос дошёл до биржи.
func (c *Client) Connected() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != "" && c.cfg.Passphrase != "" && !c.down.Load()
}

func (c *Client) instID(instrument string) string { return instrument + c.cfg.InstSuffix }

func (c *Client) sign(ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// do выполняет запрос к OKX. private=true: подписанный запрос.
// Ошибки транспорта помечают клиент как отключённый до следующего ответа.
func (c *Client) do(ctx context.Context, method, requestPath string, payload any, private bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal")
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(body)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}

	endpoint, _, _ := strings.Cut(requestPath, "?")
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest(endpoint, "error", time.Since(started))
		if ctx.Err() == nil {
			c.down.Store(true)
		}
		return nil, errors.Wrapf(err, "%s %s", method, requestPath)
	}
	defer resp.Body.Close()
	c.down.Store(false)

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		metrics.ObserveRequest(endpoint, "http_"+strconv.Itoa(resp.StatusCode), time.Since(started))
		return nil, errors.Errorf("%s %s: http %d: %s", method, requestPath, resp.StatusCode, string(data))
	}
	metrics.ObserveRequest(endpoint, "ok", time.Since(started))
	return data, nil
}
