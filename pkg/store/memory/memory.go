package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/store"

	"github.com/shopspring/decimal"
)

// Store is an in-process implementation of store.Store.
// Row locks are one-slot channels so a lock wait can be abandoned when the
// caller's context ends; the connection pool is a semaphore of MaxConns slots.
type Store struct {
	// mu protects the committed state below
	mu          sync.RWMutex
	accounts    map[string]*account
	entries     []ledger.Entry
	ops         map[string]ledger.ProcessedOperation
	opLog       []ledger.ProcessedOperation
	nextEntryID int64

	conns  chan struct{}
	closed atomic.Bool
	now    func() time.Time
}

type account struct {
	id      string
	balance decimal.Decimal
	lock    chan struct{}
}

// Config holds configuration for the memory store.
type Config struct {
	// MaxConns bounds the number of open transactions (default: 10)
	MaxConns int

	// Now overrides the clock used for processed operation timestamps
	Now func() time.Time
}

// New creates an empty memory store.
func New(config Config) *Store {
	if config.MaxConns <= 0 {
		config.MaxConns = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store{
		accounts: make(map[string]*account),
		ops:      make(map[string]ledger.ProcessedOperation),
		conns:    make(chan struct{}, config.MaxConns),
		now:      config.Now,
	}
}

// Begin acquires a pool slot and opens a transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if s.closed.Load() {
		return nil, store.ErrUnavailable
	}

	select {
	case s.conns <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("memory: acquire connection: %w", ctx.Err())
	}

	return &tx{
		store:    s,
		locked:   make(map[string]*account),
		balances: make(map[string]decimal.Decimal),
	}, nil
}

// Accounts returns every account ordered by id.
func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]ledger.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		accounts = append(accounts, ledger.Account{ID: acc.id, Balance: acc.balance})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	return accounts, nil
}

// RecentEntries returns up to limit entries, newest first.
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, len(s.entries))
	result := make([]ledger.Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.entries[i])
	}
	return result, nil
}

// RecentOperations returns up to limit processed operations, newest first.
func (s *Store) RecentOperations(ctx context.Context, limit int) ([]ledger.ProcessedOperation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, len(s.opLog))
	result := make([]ledger.ProcessedOperation, 0, n)
	for i := len(s.opLog) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.opLog[i])
	}
	return result, nil
}

// ScanOperationIDs calls fn for every processed operation id in insertion order.
func (s *Store) ScanOperationIDs(ctx context.Context, fn func(id string) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	ids := make([]string, len(s.opLog))
	for i, op := range s.opLog {
		ids[i] = op.OperationID
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// EnsureAccounts creates missing accounts. Existing balances are left untouched.
func (s *Store) EnsureAccounts(ctx context.Context, accounts ...ledger.Account) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		if a.ID == "" {
			return fmt.Errorf("memory: account id is required")
		}
		if a.Balance.IsNegative() {
			return fmt.Errorf("memory: account %s: negative balance", a.ID)
		}
		if _, exists := s.accounts[a.ID]; exists {
			continue
		}
		s.accounts[a.ID] = &account{
			id:      a.ID,
			balance: a.Balance,
			lock:    make(chan struct{}, 1),
		}
	}
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	return s.check(ctx)
}

// Close marks the store closed. Open transactions may still finish.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// InFlight returns the number of open transactions.
func (s *Store) InFlight() int {
	return len(s.conns)
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrUnavailable
	}
	return ctx.Err()
}

// tx is a memory transaction. Writes are staged and applied on Commit.
type tx struct {
	store *Store
	done  bool

	// locked holds accounts whose lock slot this transaction owns
	locked map[string]*account
	order  []*account

	balances map[string]decimal.Decimal
	entries  []ledger.Entry
	ops      []ledger.ProcessedOperation
}

func (t *tx) active(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	return ctx.Err()
}

// OperationExists checks committed operations only.
func (t *tx) OperationExists(ctx context.Context, id string) (bool, error) {
	if err := t.active(ctx); err != nil {
		return false, err
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	_, exists := t.store.ops[id]
	return exists, nil
}

// LockAccounts acquires each account lock in the given order.
func (t *tx) LockAccounts(ctx context.Context, ids ...string) (map[string]decimal.Decimal, error) {
	if err := t.active(ctx); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		t.store.mu.RLock()
		acc, exists := t.store.accounts[id]
		t.store.mu.RUnlock()
		if !exists {
			continue
		}

		if _, held := t.locked[id]; !held {
			select {
			case acc.lock <- struct{}{}:
				t.locked[id] = acc
				t.order = append(t.order, acc)
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: account %s: %w", store.ErrLockTimeout, id, ctx.Err())
			}
		}

		if staged, ok := t.balances[id]; ok {
			balances[id] = staged
			continue
		}
		t.store.mu.RLock()
		balances[id] = acc.balance
		t.store.mu.RUnlock()
	}

	return balances, nil
}

// UpdateBalance stages a new balance for a locked account.
func (t *tx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if err := t.active(ctx); err != nil {
		return err
	}
	if _, held := t.locked[id]; !held {
		return fmt.Errorf("memory: account %s is not locked by this transaction", id)
	}
	if balance.IsNegative() {
		return fmt.Errorf("memory: account %s: balance check violated", id)
	}

	t.balances[id] = balance
	return nil
}

// AppendEntries stages ledger entries. Ids are assigned now, like a database
// sequence: a rolled back transaction leaves a gap.
func (t *tx) AppendEntries(ctx context.Context, entries ...ledger.Entry) ([]int64, error) {
	if err := t.active(ctx); err != nil {
		return nil, err
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, e := range entries {
		if _, exists := t.store.accounts[e.AccountID]; !exists {
			return nil, fmt.Errorf("memory: ledger entry references unknown account %s", e.AccountID)
		}
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		t.store.nextEntryID++
		e.ID = t.store.nextEntryID
		t.entries = append(t.entries, e)
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// RecordOperation stages a processed operation id.
func (t *tx) RecordOperation(ctx context.Context, op ledger.ProcessedOperation) error {
	if err := t.active(ctx); err != nil {
		return err
	}

	for _, staged := range t.ops {
		if staged.OperationID == op.OperationID {
			return store.ErrOperationExists
		}
	}

	t.store.mu.RLock()
	_, exists := t.store.ops[op.OperationID]
	t.store.mu.RUnlock()
	if exists {
		return store.ErrOperationExists
	}

	if op.CreatedAt.IsZero() {
		op.CreatedAt = t.store.now().UTC()
	}
	t.ops = append(t.ops, op)
	return nil
}

// Commit applies every staged write under the store lock.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		t.release()
		return err
	}
	defer t.release()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range t.ops {
		if _, exists := s.ops[op.OperationID]; exists {
			return store.ErrOperationExists
		}
	}

	for id, balance := range t.balances {
		t.locked[id].balance = balance
	}
	// Ids were assigned at append time, so a transaction that appended earlier may
	// commit later. Keep the log in id order.
	for _, e := range t.entries {
		i := len(s.entries)
		for i > 0 && s.entries[i-1].ID > e.ID {
			i--
		}
		s.entries = slices.Insert(s.entries, i, e)
	}
	for _, op := range t.ops {
		s.ops[op.OperationID] = op
		s.opLog = append(s.opLog, op)
	}

	return nil
}

// Rollback discards staged writes.
func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.release()
	return nil
}

// release frees row locks in reverse acquisition order, then the pool slot.
func (t *tx) release() {
	t.done = true
	for i := len(t.order) - 1; i >= 0; i-- {
		<-t.order[i].lock
	}
	t.order = nil
	<-t.store.conns
}

var _ store.Store = (*Store)(nil)
