package transfer

import (
	"context"
	"strconv"

	"transfer-ledger/pkg/ledger"
)

// State is a read-only snapshot for inspection. It is assembled from separate
// reads and is not a consistent point-in-time view.
type State struct {
	Accounts     []ledger.Account
	Entries      []ledger.Entry
	OperationIDs []string
}

// ClampLimit maps a requested row limit onto [1, max]. Non-positive means max.
func ClampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// State returns every account ordered by id plus the newest ledger entries and
// processed operation ids, newest first. Concurrent calls with the same limit
// share one set of reads.
func (e *Engine) State(ctx context.Context, limit int) (State, error) {
	limit = ClampLimit(limit, e.config.StateLimit)

	v, err, _ := e.sf.Do("state:"+strconv.Itoa(limit), func() (interface{}, error) {
		return e.readState(ctx, limit)
	})
	if err != nil {
		return State{}, err
	}
	return v.(State), nil
}

func (e *Engine) readState(ctx context.Context, limit int) (State, error) {
	accounts, err := e.store.Accounts(ctx)
	if err != nil {
		return State{}, ledger.StorageFailure("read accounts", err)
	}

	entries, err := e.store.RecentEntries(ctx, limit)
	if err != nil {
		return State{}, ledger.StorageFailure("read ledger", err)
	}

	ops, err := e.store.RecentOperations(ctx, limit)
	if err != nil {
		return State{}, ledger.StorageFailure("read processed operations", err)
	}

	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.OperationID
	}

	return State{
		Accounts:     accounts,
		Entries:      entries,
		OperationIDs: ids,
	}, nil
}

// Ping checks the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
