package transfer

import (
	"context"
	"fmt"
	"time"

	"transfer-ledger/pkg/idempotency"
	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/logging"
	"transfer-ledger/pkg/metrics"
	"transfer-ledger/pkg/notify"
	"transfer-ledger/pkg/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StatusOK is the status of every accepted request, duplicates included.
const StatusOK = "ok"

const (
	MessageCompleted = "transfer completed"
	MessageDuplicate = "operation already processed"
)

// Result is the outcome of an accepted transfer.
// Balances is nil for duplicates.
type Result struct {
	Status     string
	Message    string
	Outcome    string
	TransferID string
	Balances   map[string]decimal.Decimal

	// Version orders balance snapshots per account. It is the id of the
	// transfer's last ledger entry.
	Version int64
}

// Duplicate reports whether the request was suppressed by its operation id.
func (r Result) Duplicate() bool {
	return r.Outcome == ledger.OutcomeDuplicate
}

// Config configures the engine.
type Config struct {
	// TransactionTimeout bounds Begin through Commit, lock waits included.
	// Zero disables the bound.
	TransactionTimeout time.Duration

	// StateLimit caps the rows returned by State (default: 100)
	StateLimit int

	// Now stamps ledger entries and processed operations (default: time.Now)
	Now func() time.Time

	// NewID generates transfer ids (default: uuid.NewString)
	NewID func() string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TransactionTimeout: 5 * time.Second,
		StateLimit:         100,
		Now:                time.Now,
		NewID:              uuid.NewString,
	}
}

// Engine applies transfers against a store.
type Engine struct {
	store    store.Store
	registry *idempotency.Registry
	metrics  metrics.Collector
	notifier notify.Notifier
	logger   *logging.Logger
	config   Config
	gauge    *balanceGauge

	sf singleflight.Group
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithRegistry sets the idempotency registry.
func WithRegistry(r *idempotency.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithNotifier sets where transfer-completed events go.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l.Named("transfer") }
}

// New creates an engine over s.
func New(s store.Store, config Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if config.StateLimit <= 0 || config.StateLimit > defaults.StateLimit {
		config.StateLimit = defaults.StateLimit
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.NewID == nil {
		config.NewID = defaults.NewID
	}

	e := &Engine{
		store:    s,
		registry: idempotency.New(idempotency.DefaultConfig()),
		metrics:  metrics.NoOpCollector{},
		notifier: notify.Nop{},
		logger:   logging.NewNoOpLogger(),
		config:   config,
		gauge:    newBalanceGauge(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer moves req.Amount from req.From to req.To in one atomic unit of work.
//
// Duplicates are not errors: they return a Result with Outcome "duplicate". Every
// returned error is classified by ledger.Classify, and every failure after the
// transaction began leaves the store exactly as it was.
func (e *Engine) Transfer(ctx context.Context, req ledger.TransferRequest) (Result, error) {
	start := time.Now()

	result, err := e.transfer(ctx, req)

	outcome := result.Outcome
	if err != nil {
		outcome = ledger.Classify(err)
	}
	e.emit(ctx, req, result, outcome, time.Since(start), err)

	return result, err
}

func (e *Engine) transfer(ctx context.Context, req ledger.TransferRequest) (Result, error) {
	if err := ledger.ValidateTransfer(req); err != nil {
		return Result{}, err
	}

	if e.config.TransactionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TransactionTimeout)
		defer cancel()
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Result{}, storageError("begin", err)
	}
	// No-op once committed
	defer tx.Rollback(context.WithoutCancel(ctx))

	if req.HasOperationID() {
		seen, err := e.registry.Seen(ctx, tx, req.OperationID)
		if err != nil {
			return Result{}, storageError("check operation", err)
		}
		if seen {
			return duplicate(), nil
		}
	}

	balances, err := tx.LockAccounts(ctx, ledger.LockOrder(req.From, req.To)...)
	if err != nil {
		return Result{}, storageError("lock accounts", err)
	}

	// A concurrent retry holding the same id may have committed while we waited
	// for the locks. Its debit is already in balances, so look again before
	// judging funds.
	if req.HasOperationID() {
		exists, err := tx.OperationExists(ctx, req.OperationID)
		if err != nil {
			return Result{}, storageError("check operation", err)
		}
		if exists {
			return duplicate(), nil
		}
	}

	source, ok := balances[req.From]
	if !ok {
		return Result{}, ledger.AccountNotFound(req.From)
	}
	destination, ok := balances[req.To]
	if !ok {
		return Result{}, ledger.AccountNotFound(req.To)
	}

	if source.LessThan(req.Amount) {
		return Result{}, fmt.Errorf("%w: account %s", ledger.ErrInsufficientFunds, req.From)
	}

	updated := map[string]decimal.Decimal{
		req.From: source.Sub(req.Amount),
		req.To:   destination.Add(req.Amount),
	}
	for _, id := range []string{req.From, req.To} {
		if err := tx.UpdateBalance(ctx, id, updated[id]); err != nil {
			return Result{}, storageError("update balance", err)
		}
	}

	now := e.config.Now()
	transferID := e.config.NewID()
	debit, credit := ledger.EntryPair(transferID, req, now)
	ids, err := tx.AppendEntries(ctx, debit, credit)
	if err != nil {
		return Result{}, storageError("append entries", err)
	}
	var version int64
	for _, id := range ids {
		version = max(version, id)
	}

	if req.HasOperationID() {
		if err := e.registry.Record(ctx, tx, req.OperationID, now); err != nil {
			if store.IsOperationExists(err) {
				return duplicate(), nil
			}
			return Result{}, storageError("record operation", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if store.IsOperationExists(err) {
			return duplicate(), nil
		}
		return Result{}, storageError("commit", err)
	}

	if req.HasOperationID() {
		e.registry.Remember(req.OperationID)
	}

	return Result{
		Status:     StatusOK,
		Message:    MessageCompleted,
		Outcome:    ledger.OutcomeSuccess,
		TransferID: transferID,
		Balances:   updated,
		Version:    version,
	}, nil
}

// RecordBalances publishes the current balance of every account to the metrics
// collector. Call it once after seeding so the gauges exist before the first
// transfer. Accounts already updated by a transfer keep their newer value.
func (e *Engine) RecordBalances(ctx context.Context) error {
	accounts, err := e.store.Accounts(ctx)
	if err != nil {
		return storageError("list accounts", err)
	}
	for _, a := range accounts {
		e.gauge.set(e.metrics, a.ID, a.Balance, 0)
	}
	return nil
}

func duplicate() Result {
	return Result{
		Status:  StatusOK,
		Message: MessageDuplicate,
		Outcome: ledger.OutcomeDuplicate,
	}
}

// storageError classifies a store failure. Lock and deadline timeouts become
// ledger.ErrTimeout, everything else ledger.ErrStorage.
func storageError(op string, err error) error {
	if store.IsTimeout(err) {
		return fmt.Errorf("%w: %s: %w", ledger.ErrTimeout, op, err)
	}
	return ledger.StorageFailure(op, err)
}

// emit reports the outcome after the transaction is finished. It never fails
// and never changes the result handed back to the caller.
func (e *Engine) emit(ctx context.Context, req ledger.TransferRequest, result Result, outcome string, elapsed time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("observability emission panicked", zap.Any("panic", r), logging.Outcome(outcome))
		}
	}()

	e.metrics.RecordTransfer(outcome, elapsed)

	fields := []zap.Field{
		logging.Accounts(req.From, req.To),
		logging.Outcome(outcome),
		logging.Elapsed(elapsed),
	}
	// Formatting an out-of-range amount expands its exponent digit by digit.
	if ledger.ValidateAmount(req.Amount) == nil {
		fields = append(fields, zap.String("amount", req.Amount.String()))
	}
	if req.HasOperationID() {
		fields = append(fields, logging.OperationID(req.OperationID))
	}

	switch {
	case err == nil && outcome == ledger.OutcomeSuccess:
		e.logger.Debug("transfer completed", append(fields, logging.TransferID(result.TransferID))...)
	case err == nil:
		e.logger.Info("duplicate operation suppressed", fields...)
	case ledger.IsClientError(err):
		e.logger.Info("transfer rejected", append(fields, zap.Error(err))...)
	default:
		e.logger.Error("transfer failed", append(fields, zap.Error(err))...)
	}

	if err != nil || outcome != ledger.OutcomeSuccess {
		return
	}

	balances := make(map[string]decimal.Decimal, len(result.Balances))
	for account, balance := range result.Balances {
		e.gauge.set(e.metrics, account, balance, result.Version)
		balances[account] = balance
	}

	event := notify.TransferCompleted{
		TransferID:  result.TransferID,
		OperationID: req.OperationID,
		From:        req.From,
		To:          req.To,
		Amount:      req.Amount,
		Balances:    balances,
		Version:     result.Version,
		At:          e.config.Now().UTC(),
	}
	if nerr := e.notifier.Notify(context.WithoutCancel(ctx), event); nerr != nil {
		e.logger.Warn("notification not queued", logging.TransferID(result.TransferID), zap.Error(nerr))
	}
}
