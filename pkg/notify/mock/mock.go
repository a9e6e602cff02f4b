package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"transfer-ledger/pkg/notify"
)

// Sink records events and allows custom behavior injection for testing.
type Sink struct {
	SinkName  string
	SendFunc  func(ctx context.Context, event notify.TransferCompleted) error
	CloseFunc func() error

	mu     sync.Mutex
	events []notify.TransferCompleted

	sendCalls  int64
	closeCalls int64
}

func (m *Sink) Name() string {
	if m.SinkName == "" {
		return "mock"
	}
	return m.SinkName
}

func (m *Sink) Send(ctx context.Context, event notify.TransferCompleted) error {
	atomic.AddInt64(&m.sendCalls, 1)
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, event); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *Sink) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Events returns a copy of every successfully sent event.
func (m *Sink) Events() []notify.TransferCompleted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.TransferCompleted(nil), m.events...)
}

// SendCalls returns the number of Send calls, failed ones included.
func (m *Sink) SendCalls() int64 {
	return atomic.LoadInt64(&m.sendCalls)
}

// CloseCalls returns the number of Close calls.
func (m *Sink) CloseCalls() int64 {
	return atomic.LoadInt64(&m.closeCalls)
}

// Notifier is a synchronous notify.Notifier backed by a Sink, for engine tests.
type Notifier struct {
	Sink
}

func (n *Notifier) Notify(ctx context.Context, event notify.TransferCompleted) error {
	return n.Send(ctx, event)
}
