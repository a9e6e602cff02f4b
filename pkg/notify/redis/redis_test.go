package redis

import (
	"context"
	"testing"
	"time"

	"transfer-ledger/pkg/notify"

	"github.com/shopspring/decimal"
)

func setupTestSink(t *testing.T) *Sink {
	config := DefaultConfig()
	config.KeyPrefix = "test:ledger:"
	config.Channel = "test:ledger:transfers"
	config.DialTimeout = 2 * time.Second

	s, err := New(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return s
}

func clearBalances(t *testing.T, s *Sink, accounts ...string) {
	t.Helper()
	keys := make([]string, 0, len(accounts))
	for _, a := range accounts {
		keys = append(keys, s.BalanceKey(a))
	}
	if err := s.client.Do(context.Background(), s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		t.Fatalf("Failed to clear keys: %v", err)
	}
}

func TestNew_NoAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error without addresses")
	}
}

func TestSink_Send(t *testing.T) {
	s := setupTestSink(t)
	defer s.Close()

	ctx := context.Background()
	clearBalances(t, s, "A", "B")
	event := notify.TransferCompleted{
		TransferID: "t-1",
		Version:    2,
		From:       "A",
		To:         "B",
		Amount:     decimal.NewFromInt(200),
		Balances: map[string]decimal.Decimal{
			"A": decimal.NewFromInt(800),
			"B": decimal.RequireFromString("700.50"),
		},
		At: time.Now().UTC(),
	}

	if err := s.Send(ctx, event); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := s.Balance(ctx, "B")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if got != "700.5" {
		t.Errorf("Expected 700.5, got %s", got)
	}

	if s.BalanceKey("A") != "test:ledger:balance:A" {
		t.Errorf("Unexpected key %s", s.BalanceKey("A"))
	}
}

func TestSink_SendKeepsNewestVersion(t *testing.T) {
	s := setupTestSink(t)
	defer s.Close()

	ctx := context.Background()
	clearBalances(t, s, "A", "B")

	newer := notify.TransferCompleted{
		TransferID: "t-2",
		Version:    4,
		Balances: map[string]decimal.Decimal{
			"A": decimal.NewFromInt(700),
			"B": decimal.NewFromInt(800),
		},
	}
	older := notify.TransferCompleted{
		TransferID: "t-1",
		Version:    2,
		Balances: map[string]decimal.Decimal{
			"A": decimal.NewFromInt(900),
			"B": decimal.NewFromInt(600),
		},
	}

	// Delivered out of commit order
	if err := s.Send(ctx, newer); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.Send(ctx, older); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for account, want := range map[string]string{"A": "700", "B": "800"} {
		got, err := s.Balance(ctx, account)
		if err != nil {
			t.Fatalf("Balance failed: %v", err)
		}
		if got != want {
			t.Errorf("Expected %s=%s, got %s", account, want, got)
		}
	}

	version, err := s.BalanceVersion(ctx, "A")
	if err != nil {
		t.Fatalf("BalanceVersion failed: %v", err)
	}
	if version != 4 {
		t.Errorf("Expected version 4, got %d", version)
	}
}
