package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/store"

	"github.com/shopspring/decimal"
)

// Store implements store.Store on PostgreSQL.
//
// Row locks are taken with SELECT ... FOR UPDATE, one statement per account in
// the order supplied by the caller. Under READ COMMITTED this serializes
// writers of the same account and prevents lost updates.
type Store struct {
	db     *sql.DB
	config Config
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// MaxOpenConns bounds the pool and therefore the in-flight transfer count
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Isolation is the transaction isolation level (default: READ COMMITTED)
	Isolation sql.IsolationLevel

	// LockTimeout bounds each row lock wait via SET LOCAL lock_timeout (0 = none)
	LockTimeout time.Duration

	// ConnectTimeout bounds the initial ping
	ConnectTimeout time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "postgres",
		Port:            5432,
		User:            "fintech",
		Password:        "fintech",
		Database:        "fintech",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		Isolation:       sql.LevelReadCommitted,
		LockTimeout:     2 * time.Second,
		ConnectTimeout:  5 * time.Second,
	}
}

// DSN returns the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Open connects to PostgreSQL, verifies the connection and migrates the schema.
func Open(ctx context.Context, config Config) (*Store, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	return newStore(ctx, db, config)
}

func newStore(ctx context.Context, db *sql.DB, config Config) (*Store, error) {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", translate(err))
	}

	s := &Store{db: db, config: config}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			balance NUMERIC NOT NULL CHECK (balance >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL CHECK (type IN ('DEBIT', 'CREDIT')),
			account_id TEXT NOT NULL REFERENCES accounts(id),
			amount NUMERIC NOT NULL CHECK (amount > 0),
			at TIMESTAMPTZ NOT NULL
		)`,
		`ALTER TABLE ledger ADD COLUMN IF NOT EXISTS transfer_id TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account_id ON ledger(account_id)`,
		`CREATE TABLE IF NOT EXISTS processed_ops (
			operation_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_ops_created_at ON processed_ops(created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return translate(err)
		}
	}

	return nil
}

// Begin opens a transaction at the configured isolation level.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.config.Isolation})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", translate(err))
	}

	if s.config.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.config.LockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			sqlTx.Rollback()
			return nil, fmt.Errorf("set lock timeout: %w", translate(err))
		}
	}

	return &tx{tx: sqlTx}, nil
}

// Accounts returns every account ordered by id.
func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, balance FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", translate(err))
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.Balance); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}

	return accounts, translate(rows.Err())
}

// RecentEntries returns up to limit ledger entries, newest first.
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]ledger.Entry, error) {
	query := `
		SELECT id, COALESCE(transfer_id, ''), type, account_id, amount, at
		FROM ledger
		ORDER BY id DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", translate(err))
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var entryType string
		if err := rows.Scan(&e.ID, &e.TransferID, &entryType, &e.AccountID, &e.Amount, &e.At); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = ledger.EntryType(entryType)
		e.At = e.At.UTC()
		entries = append(entries, e)
	}

	return entries, translate(rows.Err())
}

// RecentOperations returns up to limit processed operations, newest first.
func (s *Store) RecentOperations(ctx context.Context, limit int) ([]ledger.ProcessedOperation, error) {
	query := `
		SELECT operation_id, created_at
		FROM processed_ops
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query processed ops: %w", translate(err))
	}
	defer rows.Close()

	var ops []ledger.ProcessedOperation
	for rows.Next() {
		var op ledger.ProcessedOperation
		if err := rows.Scan(&op.OperationID, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processed op: %w", err)
		}
		op.CreatedAt = op.CreatedAt.UTC()
		ops = append(ops, op)
	}

	return ops, translate(rows.Err())
}

// ScanOperationIDs streams every processed operation id.
func (s *Store) ScanOperationIDs(ctx context.Context, fn func(id string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT operation_id FROM processed_ops`)
	if err != nil {
		return fmt.Errorf("query processed ops: %w", translate(err))
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan processed op: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}

	return translate(rows.Err())
}

// EnsureAccounts inserts accounts that do not exist yet.
func (s *Store) EnsureAccounts(ctx context.Context, accounts ...ledger.Account) error {
	for _, a := range accounts {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts (id, balance) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			a.ID, a.Balance,
		)
		if err != nil {
			return fmt.Errorf("ensure account %s: %w", a.ID, translate(err))
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return translate(s.db.PingContext(ctx))
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats exposes pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// tx wraps a *sql.Tx.
type tx struct {
	tx *sql.Tx
}

func (t *tx) OperationExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_ops WHERE operation_id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed op: %w", translate(err))
	}
	return exists, nil
}

func (t *tx) LockAccounts(ctx context.Context, ids ...string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		var balance decimal.Decimal
		err := t.tx.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, translate(err))
		}
		balances[id] = balance
	}
	return balances, nil
}

func (t *tx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, balance, id)
	if err != nil {
		return fmt.Errorf("update account %s: %w", id, translate(err))
	}
	return nil
}

// AppendEntries inserts entries while the caller holds the account row locks, so
// the sequence values handed out are ordered per account.
func (t *tx) AppendEntries(ctx context.Context, entries ...ledger.Entry) ([]int64, error) {
	query := `
		INSERT INTO ledger (transfer_id, type, account_id, amount, at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		var id int64
		err := t.tx.QueryRowContext(ctx, query, e.TransferID, string(e.Type), e.AccountID, e.Amount, e.At).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert %s ledger entry: %w", e.Type, translate(err))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *tx) RecordOperation(ctx context.Context, op ledger.ProcessedOperation) error {
	var err error
	if op.CreatedAt.IsZero() {
		_, err = t.tx.ExecContext(ctx, `INSERT INTO processed_ops (operation_id) VALUES ($1)`, op.OperationID)
	} else {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO processed_ops (operation_id, created_at) VALUES ($1, $2)`,
			op.OperationID, op.CreatedAt,
		)
	}
	if err != nil {
		return fmt.Errorf("insert processed op: %w", translate(err))
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	return translate(t.tx.Rollback())
}

var _ store.Store = (*Store)(nil)
