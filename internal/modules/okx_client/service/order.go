package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bot_engine/internal/helper"
	"bot_engine/internal/models"
	ledger "bot_engine/internal/modules/ledger/service"
	"bot_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const (
	codeInsufficientMargin = "51008"
	codeOrderNotExist      = "51603"
)

type placeOrderReq struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	Sz         string `json:"sz"`
	ClOrdID    string `json:"clOrdId"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

type placeOrderResp struct {
	envelope
	Data []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	} `json:"data"`
}

type orderRow struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	State     string `json:"state"`
	AvgPx     string `json:"avgPx"`
	AccFillSz string `json:"accFillSz"`
}

// PlaceOrder ставит рыночный ордер и ждёт финального состояния (filled/canceled).
// Размер приходит в базовой валюте и переводится в контракты по ctVal/lotSz.
func (c *Client) PlaceOrder(ctx context.Context, req ledger.OrderRequest) (ledger.Fill, error) {
	meta, err := c.Instrument(ctx, req.Instrument)
	if err != nil {
		return ledger.Fill{}, err
	}

	contracts := helper.RoundDownToTick(req.Size/meta.CtVal, meta.LotSz)
	if contracts < meta.MinSz {
		return ledger.Fill{}, models.NewExecutionError("place", req.Instrument, models.ExecRejected,
			errors.Errorf("size %.8f is %.8f contracts, below minSz %.8f", req.Size, contracts, meta.MinSz))
	}

	body := placeOrderReq{
		InstID:     meta.InstID,
		TdMode:     c.cfg.TdMode,
		Side:       strings.ToLower(string(req.Side)),
		OrdType:    "market",
		Sz:         helper.FormatStep(contracts, meta.LotSz),
		ClOrdID:    req.ClientOrderID,
		ReduceOnly: req.ReduceOnly,
	}
	data, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body, true)
	if err != nil {
		return ledger.Fill{}, err
	}

	var resp placeOrderResp
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return ledger.Fill{}, errors.Wrap(err, "decode place order")
	}
	if resp.Code != "0" || len(resp.Data) == 0 || resp.Data[0].SCode != "0" {
		code, msg := resp.Code, resp.Msg
		if len(resp.Data) > 0 && resp.Data[0].SCode != "" {
			code, msg = resp.Data[0].SCode, resp.Data[0].SMsg
		}
		kind := models.ExecRejected
		if code == codeInsufficientMargin {
			kind = models.ExecMargin
		}
		return ledger.Fill{}, models.NewExecutionError("place", req.Instrument, kind,
			errors.Errorf("okx %s: %s", code, msg))
	}
	logger.Info("[OKX] order %s %s %s sz=%s reduceOnly=%v accepted, ordId=%s",
		req.ClientOrderID, body.Side, body.InstID, body.Sz, req.ReduceOnly, resp.Data[0].OrdID)

	return c.await(ctx, req.Instrument, req.ClientOrderID)
}

// await опрашивает ордер до финального состояния. Выход по ctx: исход неизвестен.
func (c *Client) await(ctx context.Context, instrument, clientOrderID string) (ledger.Fill, error) {
	t := time.NewTicker(c.cfg.PollEvery)
	defer t.Stop()
	for {
		f, err := c.OrderStatus(ctx, instrument, clientOrderID)
		if err != nil && !errors.Is(err, models.ErrOrderNotFound) {
			return ledger.Fill{}, err
		}
		if err == nil && (f.State == ledger.OrderFilled || f.State == ledger.OrderCanceled) {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return ledger.Fill{}, ctx.Err()
		case <-t.C:
		}
	}
}

// OrderStatus: состояние ордера по clOrdId. FilledSize в базовой валюте.
func (c *Client) OrderStatus(ctx context.Context, instrument, clientOrderID string) (ledger.Fill, error) {
	meta, err := c.Instrument(ctx, instrument)
	if err != nil {
		return ledger.Fill{}, err
	}

	q := url.Values{}
	q.Set("instId", meta.InstID)
	q.Set("clOrdId", clientOrderID)
	data, err := c.do(ctx, http.MethodGet, "/api/v5/trade/order?"+q.Encode(), nil, true)
	if err != nil {
		return ledger.Fill{}, err
	}

	var resp struct {
		envelope
		Data []orderRow `json:"data"`
	}
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return ledger.Fill{}, errors.Wrap(err, "decode order")
	}
	if resp.Code == codeOrderNotExist {
		return ledger.Fill{}, models.ErrOrderNotFound
	}
	if resp.Code != "0" {
		return ledger.Fill{}, errors.Errorf("okx %s: %s", resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 {
		return ledger.Fill{}, models.ErrOrderNotFound
	}

	row := resp.Data[0]
	avg, _ := strconv.ParseFloat(row.AvgPx, 64)
	acc, _ := strconv.ParseFloat(row.AccFillSz, 64)
	return ledger.Fill{
		OrderID:       row.OrdID,
		ClientOrderID: row.ClOrdID,
		State:         orderState(row.State),
		AvgPrice:      avg,
		FilledSize:    acc * meta.CtVal,
	}, nil
}

func orderState(s string) ledger.OrderState {
	switch s {
	case "filled":
		return ledger.OrderFilled
	case "partially_filled":
		return ledger.OrderPartial
	case "canceled", "mmp_canceled":
		return ledger.OrderCanceled
	default:
		return ledger.OrderPending
	}
}
