package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bot_engine/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// History: REST-свечи OKX для прогрева истории цен до первых тиков WS.
type History struct {
	baseURL    string
	instSuffix string
	http       *http.Client
}

func NewHistory(baseURL, instSuffix string) *History {
	return &History{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instSuffix: instSuffix,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Closes возвращает цены закрытия последних limit свечей, от старых к новым.
// Время точки: конец свечи.
func (h *History) Closes(ctx context.Context, instrument, timeframe string, limit int) ([]models.PricePoint, error) {
	if limit <= 0 {
		limit = 100
	}
	b, err := okxBar(timeframe)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		h.baseURL, url.QueryEscape(instrument+h.instSuffix), url.QueryEscape(b.name), limit,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "candles request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("candles http %d: %s", resp.StatusCode, string(body))
	}

	var r struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := sonic.Unmarshal(body, &r); err != nil {
		return nil, errors.Wrap(err, "decode candles")
	}
	if r.Code != "0" {
		return nil, errors.Errorf("okx candles error: code=%s msg=%s", r.Code, r.Msg)
	}

	now := time.Now()

	// OKX отдаёт newest-first: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
	out := make([]models.PricePoint, 0, len(r.Data))
	for i := len(r.Data) - 1; i >= 0; i-- {
		row := r.Data[i]
		if len(row) < 5 {
			continue
		}
		if row[len(row)-1] != "1" && len(row) >= 9 {
			continue // незакрытая свеча
		}
		tsMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		closep, err := strconv.ParseFloat(row[4], 64)
		if err != nil || closep <= 0 {
			continue
		}
		end := time.UnixMilli(tsMs).Add(b.span)
		if end.After(now) {
			end = now
		}
		out = append(out, models.PricePoint{Instrument: instrument, Price: closep, Timestamp: end})
	}
	return out, nil
}
