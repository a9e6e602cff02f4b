package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFromEnv_Defaults(t *testing.T) {
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if c.HTTP.Address != ":8080" {
		t.Errorf("Expected :8080, got %s", c.HTTP.Address)
	}
	if c.StoreDriver != DriverPostgres {
		t.Errorf("Expected postgres driver, got %s", c.StoreDriver)
	}
	if c.Transfer.TransactionTimeout != 5*time.Second {
		t.Errorf("Expected 5s transfer timeout, got %v", c.Transfer.TransactionTimeout)
	}
	if !c.CircuitBreaker {
		t.Error("Expected circuit breaker enabled by default")
	}
	if c.Redis != nil || c.Kafka != nil {
		t.Error("Expected sinks disabled by default")
	}
	if len(c.Seed) != 2 || c.Seed[0].ID != "A" || !c.Seed[0].Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Unexpected default seed: %v", c.Seed)
	}
	if c.Log.Level != "info" || c.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", c.Log)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_MAX_CONNS", "32")
	t.Setenv("TRANSFER_TIMEOUT", "750ms")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("IDEMPOTENCY_FILTER", "true")
	t.Setenv("SEED_ACCOUNTS", "X=1.50, Y=0")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_TOPIC", "transfers")
	t.Setenv("METRICS_NAMESPACE", "ledger")
	t.Setenv("LOG_DEV", "true")
	t.Setenv("LOG_LEVEL", "warn")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if c.HTTP.Address != ":9090" || c.HTTP.MetricsNamespace != "ledger" {
		t.Errorf("Unexpected HTTP config: %+v", c.HTTP)
	}
	if c.StoreDriver != DriverMemory || c.MemoryMaxConns != 32 {
		t.Errorf("Unexpected store config: %s %d", c.StoreDriver, c.MemoryMaxConns)
	}
	if c.Postgres.Host != "db.internal" || c.Postgres.Port != 6543 || c.Postgres.MaxOpenConns != 32 {
		t.Errorf("Unexpected postgres config: %+v", c.Postgres)
	}
	if c.Postgres.LockTimeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms lock timeout, got %v", c.Postgres.LockTimeout)
	}
	if c.Transfer.TransactionTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms transfer timeout, got %v", c.Transfer.TransactionTimeout)
	}
	if !c.Idempotency.Filter {
		t.Error("Expected idempotency filter enabled")
	}
	if len(c.Seed) != 2 || !c.Seed[0].Balance.Equal(decimal.RequireFromString("1.5")) || c.Seed[1].ID != "Y" {
		t.Errorf("Unexpected seed: %v", c.Seed)
	}
	if c.Redis == nil || c.Redis.Addr != "redis:6379" {
		t.Errorf("Unexpected redis config: %+v", c.Redis)
	}
	if c.Kafka == nil || len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "k2:9092" || c.Kafka.Topic != "transfers" {
		t.Errorf("Unexpected kafka config: %+v", c.Kafka)
	}
	if !c.Log.Development || c.Log.Level != "warn" {
		t.Errorf("Unexpected log config: %+v", c.Log)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"DB_PORT", "five"},
		{"TRANSFER_TIMEOUT", "soon"},
		{"IDEMPOTENCY_FILTER", "maybe"},
		{"STORE_DRIVER", "mongo"},
		{"DB_MAX_CONNS", "0"},
		{"SEED_ACCOUNTS", "A=-1"},
		{"LOG_LEVEL", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			if err == nil {
				t.Fatalf("Expected error for %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error to name %s, got %v", tt.key, err)
			}
		})
	}
}

func TestParseSeed(t *testing.T) {
	accounts, err := ParseSeed("A=1000,B=500")
	if err != nil {
		t.Fatalf("ParseSeed failed: %v", err)
	}
	if len(accounts) != 2 || accounts[1].ID != "B" || !accounts[1].Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Unexpected accounts: %v", accounts)
	}

	if accounts, err := ParseSeed(""); err != nil || accounts != nil {
		t.Errorf("Expected empty seed, got %v %v", accounts, err)
	}

	for _, bad := range []string{"A", "=5", "A=x", "A=1,A=2", "A=-0.01"} {
		if _, err := ParseSeed(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("HTTP_ADDR=:7070\nKAFKA_TOPIC=from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Variables already in the environment win over the file.
	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("HTTP_ADDR", "")
	os.Unsetenv("HTTP_ADDR")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.HTTP.Address != ":7070" {
		t.Errorf("Expected address from file, got %s", c.HTTP.Address)
	}
	if c.Kafka == nil || c.Kafka.Topic != "from-env" {
		t.Errorf("Expected env to win, got %+v", c.Kafka)
	}
}

func TestLoad_MissingNamedFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Expected error for missing file")
	}
}
