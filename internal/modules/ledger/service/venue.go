package service

import (
	"context"
	"time"

	"bot_engine/internal/models"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// PriceSource: текущая цена инструмента (агрегатор).
type PriceSource interface {
	CurrentPrice(instrument string) (float64, error)
}

type OrderState string

const (
	OrderFilled   OrderState = "filled"
	OrderPartial  OrderState = "partially_filled"
	OrderCanceled OrderState = "canceled"
	OrderPending  OrderState = "live"
)

type OrderRequest struct {
	ClientOrderID string
	Instrument    string
	Side          models.Side
	Size          float64
	ReduceOnly    bool
}

type Fill struct {
	OrderID       string
	ClientOrderID string
	State         OrderState
	AvgPrice      float64
	FilledSize    float64
}

// Executor: биржевой доступ live-ledger. Ошибки желательно отдавать как *models.ExecutionError.
type Executor interface {
	Connected() bool
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	OrderStatus(ctx context.Context, instrument, clientOrderID string) (Fill, error)
}

type fill struct {
	price float64
	size  float64
}

// venue определяет, где исполняется ордер: по цене агрегатора или на бирже.
type venue interface {
	mode() models.Mode
	ready() error
	open(ctx context.Context, req OpenRequest, clientID string) (fill, error)
	close(ctx context.Context, pos models.Position, clientID string) (fill, error)
	status(ctx context.Context, instrument, clientID string) (fill, bool, error)
}

type paperVenue struct {
	prices PriceSource
}

func (v *paperVenue) mode() models.Mode { return models.ModePaper }
func (v *paperVenue) ready() error      { return nil }

func (v *paperVenue) open(_ context.Context, req OpenRequest, _ string) (fill, error) {
	px, err := v.prices.CurrentPrice(req.Instrument)
	if err != nil {
		return fill{}, models.NewExecutionError("open", req.Instrument, models.ExecUnavailable, err)
	}
	return fill{price: px, size: req.Size}, nil
}

func (v *paperVenue) close(_ context.Context, pos models.Position, _ string) (fill, error) {
	px, err := v.prices.CurrentPrice(pos.Instrument)
	if err != nil {
		return fill{}, models.NewExecutionError("close", pos.Instrument, models.ExecUnavailable, err)
	}
	return fill{price: px, size: pos.RemainingSize()}, nil
}

// paper исполняется мгновенно, сверять нечего
func (v *paperVenue) status(context.Context, string, string) (fill, bool, error) {
	return fill{}, true, nil
}

type liveVenue struct {
	exec    Executor
	timeout time.Duration
}

func (v *liveVenue) mode() models.Mode { return models.ModeLive }

func (v *liveVenue) ready() error {
	if v.exec == nil || !v.exec.Connected() {
		return models.ErrNotConnected
	}
	return nil
}

func (v *liveVenue) open(ctx context.Context, req OpenRequest, clientID string) (fill, error) {
	return v.place(ctx, "open", OrderRequest{
		ClientOrderID: clientID,
		Instrument:    req.Instrument,
		Side:          req.Side,
		Size:          req.Size,
	})
}

// close: reduce-only ордер в противоположную сторону на остаток позиции.
func (v *liveVenue) close(ctx context.Context, pos models.Position, clientID string) (fill, error) {
	return v.place(ctx, "close", OrderRequest{
		ClientOrderID: clientID,
		Instrument:    pos.Instrument,
		Side:          pos.Side.Opposite(),
		Size:          pos.RemainingSize(),
		ReduceOnly:    true,
	})
}

func (v *liveVenue) place(ctx context.Context, op string, req OrderRequest) (fill, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ledger.live."+op)
	defer span.Finish()
	span.SetTag("instrument", req.Instrument)
	span.SetTag("side", string(req.Side))
	span.SetTag("reduce_only", req.ReduceOnly)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	f, err := v.exec.PlaceOrder(ctx, req)
	if err != nil {
		span.SetTag("error", true)
		return fill{}, classify(ctx, op, req.Instrument, err)
	}
	if f.FilledSize <= 0 {
		return fill{}, models.NewExecutionError(op, req.Instrument, models.ExecRejected,
			errors.Errorf("order %s not filled: state=%s", f.ClientOrderID, f.State))
	}
	return fill{price: f.AvgPrice, size: f.FilledSize}, nil
}

// status сверяет ордер с неизвестным исходом. done=false: биржа ещё не дала ответа.
func (v *liveVenue) status(ctx context.Context, instrument, clientID string) (fill, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	f, err := v.exec.OrderStatus(ctx, instrument, clientID)
	if errors.Is(err, models.ErrOrderNotFound) {
		return fill{}, true, nil
	}
	if err != nil {
		return fill{}, false, err
	}
	switch f.State {
	case OrderPending, OrderPartial:
		return fill{}, false, nil
	case OrderCanceled:
		if f.FilledSize <= 0 {
			return fill{}, true, nil
		}
	}
	return fill{price: f.AvgPrice, size: f.FilledSize}, true, nil
}

// classify переводит ошибку биржи в ExecutionError; таймаут: исход неизвестен.
func classify(ctx context.Context, op, instrument string, err error) error {
	var ee *models.ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.NewExecutionError(op, instrument, models.ExecTimeout, err)
	}
	if errors.Is(err, models.ErrNotConnected) {
		return models.NewExecutionError(op, instrument, models.ExecNotConnect, err)
	}
	return models.NewExecutionError(op, instrument, models.ExecNetwork, err)
}
