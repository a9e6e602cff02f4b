package mock

import (
	"context"
	"sync/atomic"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/store"

	"github.com/shopspring/decimal"
)

// Store wraps another store.Store and lets tests inject custom behavior per
// method. Unset hooks delegate to the wrapped store.
type Store struct {
	store.Store

	// BeginFunc replaces Begin entirely when set
	BeginFunc func(ctx context.Context) (store.Tx, error)

	// Tx hooks applied to every transaction returned by Begin
	Tx TxHooks

	beginCalls int64
}

// TxHooks customizes the transactions handed out by Store.
// A hook receives the wrapped transaction so it can delegate after injecting a fault.
type TxHooks struct {
	OperationExistsFunc func(ctx context.Context, next store.Tx, id string) (bool, error)
	LockAccountsFunc    func(ctx context.Context, next store.Tx, ids ...string) (map[string]decimal.Decimal, error)
	UpdateBalanceFunc   func(ctx context.Context, next store.Tx, id string, balance decimal.Decimal) error
	AppendEntriesFunc   func(ctx context.Context, next store.Tx, entries ...ledger.Entry) ([]int64, error)
	RecordOperationFunc func(ctx context.Context, next store.Tx, op ledger.ProcessedOperation) error
	CommitFunc          func(ctx context.Context, next store.Tx) error
}

// New wraps next.
func New(next store.Store) *Store {
	return &Store{Store: next}
}

// Begin opens a hooked transaction.
func (m *Store) Begin(ctx context.Context) (store.Tx, error) {
	atomic.AddInt64(&m.beginCalls, 1)
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}

	next, err := m.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{next: next, hooks: m.Tx}, nil
}

// BeginCalls returns the number of times Begin was called.
func (m *Store) BeginCalls() int64 {
	return atomic.LoadInt64(&m.beginCalls)
}

// Tx is a transaction with injectable behavior.
type Tx struct {
	next  store.Tx
	hooks TxHooks

	rollbacks int64
	commits   int64
}

func (t *Tx) OperationExists(ctx context.Context, id string) (bool, error) {
	if t.hooks.OperationExistsFunc != nil {
		return t.hooks.OperationExistsFunc(ctx, t.next, id)
	}
	return t.next.OperationExists(ctx, id)
}

func (t *Tx) LockAccounts(ctx context.Context, ids ...string) (map[string]decimal.Decimal, error) {
	if t.hooks.LockAccountsFunc != nil {
		return t.hooks.LockAccountsFunc(ctx, t.next, ids...)
	}
	return t.next.LockAccounts(ctx, ids...)
}

func (t *Tx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if t.hooks.UpdateBalanceFunc != nil {
		return t.hooks.UpdateBalanceFunc(ctx, t.next, id, balance)
	}
	return t.next.UpdateBalance(ctx, id, balance)
}

func (t *Tx) AppendEntries(ctx context.Context, entries ...ledger.Entry) ([]int64, error) {
	if t.hooks.AppendEntriesFunc != nil {
		return t.hooks.AppendEntriesFunc(ctx, t.next, entries...)
	}
	return t.next.AppendEntries(ctx, entries...)
}

func (t *Tx) RecordOperation(ctx context.Context, op ledger.ProcessedOperation) error {
	if t.hooks.RecordOperationFunc != nil {
		return t.hooks.RecordOperationFunc(ctx, t.next, op)
	}
	return t.next.RecordOperation(ctx, op)
}

func (t *Tx) Commit(ctx context.Context) error {
	atomic.AddInt64(&t.commits, 1)
	if t.hooks.CommitFunc != nil {
		return t.hooks.CommitFunc(ctx, t.next)
	}
	return t.next.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	atomic.AddInt64(&t.rollbacks, 1)
	return t.next.Rollback(ctx)
}
