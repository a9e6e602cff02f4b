package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/logging"
	"transfer-ledger/pkg/metrics"
	"transfer-ledger/pkg/store"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientStore wraps a store.Store with a circuit breaker. While the breaker is
// open every call fails fast with store.ErrUnavailable instead of queueing on a
// dead backend.
//
// A transaction holds one breaker ticket from Begin until Commit or Rollback. Only
// backend faults count against the breaker: business rollbacks, lock timeouts and
// duplicate operation ids do not.
type ResilientStore struct {
	next    store.Store
	cb      *gobreaker.TwoStepCircuitBreaker
	name    string
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewResilientStore creates a resilient wrapper around next.
func NewResilientStore(next store.Store, config ResilientConfig, collector metrics.Collector, logger *logging.Logger) *ResilientStore {
	if config.Name == "" {
		config.Name = "store"
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	logger = logger.Named("resilience").With(zap.String("component", config.Name))

	rs := &ResilientStore{
		next:    next,
		name:    config.Name,
		timeout: config.ReadTimeout,
		metrics: collector,
		logger:  logger,
	}

	logger.Info("store circuit breaker initialized",
		zap.Duration("read_timeout", config.ReadTimeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rs.metrics.RecordCircuitState(name, circuitState(to))
		},
	}

	rs.cb = gobreaker.NewTwoStepCircuitBreaker(settings)
	rs.metrics.RecordCircuitState(config.Name, metrics.CircuitClosed)

	return rs
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// IsFault reports whether err means the backend itself is misbehaving.
func IsFault(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrOperationExists),
		errors.Is(err, store.ErrLockTimeout),
		errors.Is(err, store.ErrTxDone),
		errors.Is(err, context.Canceled):
		return false
	case ledger.IsClientError(err):
		return false
	}
	return true
}

// State returns the current breaker state.
func (rs *ResilientStore) State() metrics.CircuitState {
	return circuitState(rs.cb.State())
}

// Counts returns the breaker counters of the current generation.
func (rs *ResilientStore) Counts() Counts {
	c := rs.cb.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

func (rs *ResilientStore) allow(op string) (func(bool), error) {
	done, err := rs.cb.Allow()
	if err != nil {
		rs.logger.Warn("circuit breaker open - request rejected", zap.String("operation", op))
		return nil, fmt.Errorf("%w: %s: %w", store.ErrUnavailable, rs.name, err)
	}
	return done, nil
}

// call runs a non-transactional operation through the breaker with the read timeout.
func (rs *ResilientStore) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	done, err := rs.allow(op)
	if err != nil {
		return err
	}

	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	start := time.Now()
	err = fn(ctx)
	done(!IsFault(err))

	if err != nil && IsFault(err) {
		rs.logger.Error("store operation failed",
			zap.String("operation", op),
			logging.Elapsed(time.Since(start)),
			zap.Error(err),
		)
	}
	return err
}

// Begin takes a breaker ticket and opens a transaction on the wrapped store.
func (rs *ResilientStore) Begin(ctx context.Context) (store.Tx, error) {
	done, err := rs.allow("begin")
	if err != nil {
		return nil, err
	}

	tx, err := rs.next.Begin(ctx)
	if err != nil {
		done(!IsFault(err))
		return nil, err
	}
	return &resilientTx{next: tx, done: done}, nil
}

func (rs *ResilientStore) Accounts(ctx context.Context) ([]ledger.Account, error) {
	var accounts []ledger.Account
	err := rs.call(ctx, "accounts", func(ctx context.Context) error {
		var err error
		accounts, err = rs.next.Accounts(ctx)
		return err
	})
	return accounts, err
}

func (rs *ResilientStore) RecentEntries(ctx context.Context, limit int) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	err := rs.call(ctx, "recent_entries", func(ctx context.Context) error {
		var err error
		entries, err = rs.next.RecentEntries(ctx, limit)
		return err
	})
	return entries, err
}

func (rs *ResilientStore) RecentOperations(ctx context.Context, limit int) ([]ledger.ProcessedOperation, error) {
	var ops []ledger.ProcessedOperation
	err := rs.call(ctx, "recent_operations", func(ctx context.Context) error {
		var err error
		ops, err = rs.next.RecentOperations(ctx, limit)
		return err
	})
	return ops, err
}

// ScanOperationIDs is not bounded by the read timeout since it walks the whole table.
func (rs *ResilientStore) ScanOperationIDs(ctx context.Context, fn func(id string) error) error {
	done, err := rs.allow("scan_operations")
	if err != nil {
		return err
	}
	err = rs.next.ScanOperationIDs(ctx, fn)
	done(!IsFault(err))
	return err
}

func (rs *ResilientStore) EnsureAccounts(ctx context.Context, accounts ...ledger.Account) error {
	return rs.call(ctx, "ensure_accounts", func(ctx context.Context) error {
		return rs.next.EnsureAccounts(ctx, accounts...)
	})
}

func (rs *ResilientStore) Ping(ctx context.Context) error {
	return rs.call(ctx, "ping", rs.next.Ping)
}

func (rs *ResilientStore) Close() error {
	return rs.next.Close()
}

// resilientTx reports the transaction's fate to the breaker exactly once.
type resilientTx struct {
	next store.Tx
	done func(success bool)
	once sync.Once

	mu      sync.Mutex
	faulted bool
}

func (t *resilientTx) observe(err error) error {
	if IsFault(err) {
		t.mu.Lock()
		t.faulted = true
		t.mu.Unlock()
	}
	return err
}

func (t *resilientTx) report(success bool) {
	t.once.Do(func() { t.done(success) })
}

func (t *resilientTx) OperationExists(ctx context.Context, id string) (bool, error) {
	exists, err := t.next.OperationExists(ctx, id)
	return exists, t.observe(err)
}

func (t *resilientTx) LockAccounts(ctx context.Context, ids ...string) (map[string]decimal.Decimal, error) {
	balances, err := t.next.LockAccounts(ctx, ids...)
	return balances, t.observe(err)
}

func (t *resilientTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	return t.observe(t.next.UpdateBalance(ctx, id, balance))
}

func (t *resilientTx) AppendEntries(ctx context.Context, entries ...ledger.Entry) ([]int64, error) {
	ids, err := t.next.AppendEntries(ctx, entries...)
	return ids, t.observe(err)
}

func (t *resilientTx) RecordOperation(ctx context.Context, op ledger.ProcessedOperation) error {
	return t.observe(t.next.RecordOperation(ctx, op))
}

func (t *resilientTx) Commit(ctx context.Context) error {
	err := t.observe(t.next.Commit(ctx))
	t.report(!IsFault(err))
	return err
}

func (t *resilientTx) Rollback(ctx context.Context) error {
	err := t.next.Rollback(ctx)

	t.mu.Lock()
	faulted := t.faulted
	t.mu.Unlock()

	t.report(!faulted && !IsFault(err))
	return err
}

var _ store.Store = (*ResilientStore)(nil)
