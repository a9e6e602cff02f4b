package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransferCompleted is emitted once per committed transfer.
type TransferCompleted struct {
	TransferID  string                     `json:"transferId"`
	OperationID string                     `json:"operationId,omitempty"`
	From        string                     `json:"fromAccountId"`
	To          string                     `json:"toAccountId"`
	Amount      decimal.Decimal            `json:"amount"`
	Balances    map[string]decimal.Decimal `json:"balances"`
	// Version increases with every transfer touching an account, so consumers
	// can discard a snapshot older than one they already hold.
	Version     int64                      `json:"version"`
	At          time.Time                  `json:"at"`
}

// Notifier accepts events for best-effort delivery. Notify must not block the
// caller for longer than the implementation's configured wait.
type Notifier interface {
	Notify(ctx context.Context, event TransferCompleted) error
}

// Sink delivers a single event to an external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, event TransferCompleted) error
	Close() error
}

// Errors returned by notification dispatch.
var (
	// ErrQueueFull is returned when the queue is full and MaxWaitTime exceeded
	ErrQueueFull = errors.New("notify: queue full, event dropped")

	// ErrDispatcherClosed is returned when notifying a closed dispatcher
	ErrDispatcherClosed = errors.New("notify: dispatcher is closed")

	// ErrFlushTimeout is returned when Flush() times out waiting for queue to drain
	ErrFlushTimeout = errors.New("notify: flush timeout exceeded")
)

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(ctx context.Context, event TransferCompleted) error { return nil }

// Multi fans an event out to several notifiers. Every notifier is tried; the
// returned error joins the individual failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event TransferCompleted) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
