package store

import (
	"context"
	"errors"

	"transfer-ledger/pkg/ledger"

	"github.com/shopspring/decimal"
)

// Store is the durable backend holding accounts, the ledger log and processed
// operation ids. Implementations share one bounded connection pool across all
// transactions.
type Store interface {
	// Begin opens a transaction. It may block until a pooled connection is free.
	Begin(ctx context.Context) (Tx, error)

	// Accounts returns every account ordered by id.
	Accounts(ctx context.Context) ([]ledger.Account, error)

	// RecentEntries returns up to limit ledger entries, newest first.
	RecentEntries(ctx context.Context, limit int) ([]ledger.Entry, error)

	// RecentOperations returns up to limit processed operations, newest first.
	RecentOperations(ctx context.Context, limit int) ([]ledger.ProcessedOperation, error)

	// ScanOperationIDs calls fn for every processed operation id.
	ScanOperationIDs(ctx context.Context, fn func(id string) error) error

	// EnsureAccounts creates the given accounts, leaving existing ones untouched.
	EnsureAccounts(ctx context.Context, accounts ...ledger.Account) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the pool.
	Close() error
}

// Tx is a single atomic unit of work. Nothing written through a Tx is visible
// to other transactions until Commit succeeds.
type Tx interface {
	// OperationExists reports whether id was committed by an earlier transaction.
	OperationExists(ctx context.Context, id string) (bool, error)

	// LockAccounts takes an exclusive lock on each account in the given order and
	// returns the balances of those that exist. Missing ids are absent from the map.
	// It blocks while another transaction holds a lock.
	LockAccounts(ctx context.Context, ids ...string) (map[string]decimal.Decimal, error)

	// UpdateBalance sets the balance of a locked account.
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error

	// AppendEntries appends entries to the ledger log and returns their ids in
	// order. Ids increase across transactions, so for one account the entries of a
	// later transfer always carry larger ids than those of an earlier one.
	AppendEntries(ctx context.Context, entries ...ledger.Entry) ([]int64, error)

	// RecordOperation inserts op into the processed set. Returns ErrOperationExists
	// when the id is already present.
	RecordOperation(ctx context.Context, op ledger.ProcessedOperation) error

	// Commit makes every write visible atomically.
	Commit(ctx context.Context) error

	// Rollback discards every write. Returns ErrTxDone after Commit or Rollback.
	Rollback(ctx context.Context) error
}

// Store errors.
var (
	// ErrOperationExists is returned when a processed operation id is inserted twice
	ErrOperationExists = errors.New("store: operation already processed")

	// ErrTxDone is returned when a finished transaction is used again
	ErrTxDone = errors.New("store: transaction already finished")

	// ErrLockTimeout is returned when a row lock could not be acquired in time
	ErrLockTimeout = errors.New("store: lock wait timeout")

	// ErrUnavailable is returned when the backend cannot be reached or the circuit is open
	ErrUnavailable = errors.New("store: backend unavailable")
)

// IsOperationExists reports whether err is a duplicate operation id conflict.
func IsOperationExists(err error) bool {
	return errors.Is(err, ErrOperationExists)
}

// IsTimeout reports whether err is a lock or deadline timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded)
}
