package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/store"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique on processed_ops", &pq.Error{Code: codeUniqueViolation, Table: "processed_ops"}, store.ErrOperationExists},
		{"lock not available", &pq.Error{Code: codeLockNotAvailable}, store.ErrLockTimeout},
		{"query canceled", &pq.Error{Code: codeQueryCanceled}, store.ErrLockTimeout},
		{"connection failure", &pq.Error{Code: "08006"}, store.ErrUnavailable},
		{"bad conn", driver.ErrBadConn, store.ErrUnavailable},
		{"tx done", sql.ErrTxDone, store.ErrTxDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("translate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTranslate_KeepsCause(t *testing.T) {
	cause := &pq.Error{Code: codeLockNotAvailable, Message: "could not obtain lock"}
	got := translate(cause)

	var pqErr *pq.Error
	if !errors.As(got, &pqErr) {
		t.Fatal("Expected *pq.Error to stay reachable")
	}
	if pqErr.Message != "could not obtain lock" {
		t.Errorf("Unexpected message %q", pqErr.Message)
	}
}

func TestTranslate_Passthrough(t *testing.T) {
	if translate(nil) != nil {
		t.Error("Expected nil for nil")
	}

	other := &pq.Error{Code: codeUniqueViolation, Table: "accounts"}
	if errors.Is(translate(other), store.ErrOperationExists) {
		t.Error("Unique violation on another table must not be reported as a duplicate operation")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Isolation != sql.LevelReadCommitted {
		t.Errorf("Expected READ COMMITTED, got %v", config.Isolation)
	}
	if config.MaxOpenConns != 10 {
		t.Errorf("Expected 10 max open conns, got %d", config.MaxOpenConns)
	}

	want := "host=postgres port=5432 user=fintech password=fintech dbname=fintech sslmode=disable"
	if config.DSN() != want {
		t.Errorf("Expected DSN %q, got %q", want, config.DSN())
	}
}

// setupTestStore connects to the database named by LEDGER_TEST_DB_HOST, skipping
// when PostgreSQL is not reachable.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	host := os.Getenv("LEDGER_TEST_DB_HOST")
	if host == "" {
		t.Skip("LEDGER_TEST_DB_HOST not set")
	}

	config := DefaultConfig()
	config.Host = host
	if port, err := strconv.Atoi(os.Getenv("LEDGER_TEST_DB_PORT")); err == nil {
		config.Port = port
	}
	config.LockTimeout = 200 * time.Millisecond

	ctx := context.Background()
	s, err := Open(ctx, config)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	for _, q := range []string{`DELETE FROM ledger`, `DELETE FROM processed_ops`, `DELETE FROM accounts`} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}
	}

	err = s.EnsureAccounts(ctx,
		ledger.Account{ID: "A", Balance: decimal.NewFromInt(1000)},
		ledger.Account{ID: "B", Balance: decimal.NewFromInt(500)},
	)
	if err != nil {
		t.Fatalf("EnsureAccounts failed: %v", err)
	}

	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_TransferRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	balances, err := tx.LockAccounts(ctx, "A", "B", "missing")
	if err != nil {
		t.Fatalf("LockAccounts failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("Expected 2 balances, got %d", len(balances))
	}

	amount := decimal.NewFromInt(200)
	tx.UpdateBalance(ctx, "A", balances["A"].Sub(amount))
	tx.UpdateBalance(ctx, "B", balances["B"].Add(amount))
	d, c := ledger.EntryPair("t-1", ledger.TransferRequest{From: "A", To: "B", Amount: amount}, time.Now())
	ids, err := tx.AppendEntries(ctx, d, c)
	if err != nil {
		t.Fatalf("AppendEntries failed: %v", err)
	}
	if len(ids) != 2 || ids[1] <= ids[0] {
		t.Errorf("Expected two increasing entry ids, got %v", ids)
	}
	if err := tx.RecordOperation(ctx, ledger.ProcessedOperation{OperationID: "op1"}); err != nil {
		t.Fatalf("RecordOperation failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := tx.Rollback(ctx); !errors.Is(err, store.ErrTxDone) {
		t.Errorf("Expected ErrTxDone after commit, got %v", err)
	}

	accounts, _ := s.Accounts(ctx)
	if !accounts[0].Balance.Equal(decimal.NewFromInt(800)) || !accounts[1].Balance.Equal(decimal.NewFromInt(700)) {
		t.Errorf("Unexpected balances: %+v", accounts)
	}

	entries, _ := s.RecentEntries(ctx, 10)
	if len(entries) != 2 || entries[0].Type != ledger.Credit || entries[0].TransferID != "t-1" {
		t.Errorf("Unexpected entries: %+v", entries)
	}

	again, _ := s.Begin(ctx)
	defer again.Rollback(ctx)
	err = again.RecordOperation(ctx, ledger.ProcessedOperation{OperationID: "op1"})
	if !store.IsOperationExists(err) {
		t.Errorf("Expected ErrOperationExists, got %v", err)
	}
}

func TestStore_LockTimeout(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	holder, _ := s.Begin(ctx)
	defer holder.Rollback(ctx)
	if _, err := holder.LockAccounts(ctx, "A"); err != nil {
		t.Fatalf("LockAccounts failed: %v", err)
	}

	waiter, _ := s.Begin(ctx)
	defer waiter.Rollback(ctx)
	_, err := waiter.LockAccounts(ctx, "A")
	if !store.IsTimeout(err) {
		t.Errorf("Expected lock timeout, got %v", err)
	}
}
