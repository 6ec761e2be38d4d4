package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrDataUnavailable   = errors.New("market data unavailable")
	ErrNotConnected      = errors.New("exchange not connected")
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrPositionExists    = errors.New("position already open for instrument")
	ErrPositionBusy      = errors.New("position operation in flight")
	ErrOrderNotFound     = errors.New("order not found")
)

// ValidationError собирает все причины отказа разом.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "invalid strategy config: " + strings.Join(e.Reasons, "; ")
}

type ExecutionKind string

const (
	ExecNetwork     ExecutionKind = "network"
	ExecRejected    ExecutionKind = "rejected"
	ExecMargin      ExecutionKind = "insufficient_margin"
	ExecTimeout     ExecutionKind = "timeout"
	ExecUnavailable ExecutionKind = "unavailable"
	ExecNotConnect  ExecutionKind = "not_connected"
)

// ExecutionError: отказ ledger открыть или закрыть позицию.
// BotID заполняет ledger: по нему оркестратор относит отказ к боту.
type ExecutionError struct {
	Op         string
	Kind       ExecutionKind
	Instrument string
	BotID      string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Instrument, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func NewExecutionError(op, instrument string, kind ExecutionKind, err error) *ExecutionError {
	return &ExecutionError{Op: op, Instrument: instrument, Kind: kind, Err: err}
}

// IsExecutionError проверяет, что err (или обёрнутая ошибка): ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// OutcomeUnknown: ордер ушёл на биржу, но ответ не получен.
func OutcomeUnknown(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Kind == ExecTimeout
}
