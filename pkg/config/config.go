// Package config loads the service configuration from the environment.
//
// Values are read from the process environment, optionally preloaded from a
// .env file. Variables already set in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"transfer-ledger/pkg/api"
	"transfer-ledger/pkg/idempotency"
	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/logging"
	"transfer-ledger/pkg/notify"
	"transfer-ledger/pkg/notify/kafka"
	"transfer-ledger/pkg/notify/redis"
	"transfer-ledger/pkg/resilience"
	"transfer-ledger/pkg/store/postgres"
	"transfer-ledger/pkg/transfer"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultSeed is created on startup unless SEED_ACCOUNTS overrides it.
const DefaultSeed = "A=1000,B=500"

// Config is the full service configuration.
type Config struct {
	HTTP api.ServerConfig

	// StoreDriver selects the backend: postgres or memory
	StoreDriver string
	Postgres    postgres.Config
	// MemoryMaxConns bounds concurrent transactions on the memory store
	MemoryMaxConns int

	// CircuitBreaker wraps the store in a circuit breaker when enabled
	CircuitBreaker bool
	Resilience     resilience.ResilientConfig

	Transfer    transfer.Config
	Idempotency idempotency.Config
	Seed        []ledger.Account

	// Redis and Kafka are nil when their sink is not configured
	Redis      *redis.Config
	Kafka      *kafka.Config
	Dispatcher notify.DispatcherConfig

	Log logging.Config
}

// Load reads the configuration. With no files it tries ./.env and ignores a
// missing file; named files must exist.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (Config, error) {
	e := &env{}

	c := Config{
		HTTP:           api.DefaultServerConfig(),
		StoreDriver:    e.str("STORE_DRIVER", DriverPostgres),
		Postgres:       postgres.DefaultConfig(),
		MemoryMaxConns: 10,
		CircuitBreaker: e.boolean("CIRCUIT_BREAKER", true),
		Resilience:     resilience.DefaultResilientConfig(),
		Transfer:       transfer.DefaultConfig(),
		Idempotency:    idempotency.DefaultConfig(),
		Dispatcher:     notify.DefaultDispatcherConfig(),
	}

	c.HTTP.Address = e.str("HTTP_ADDR", c.HTTP.Address)
	c.HTTP.EnablePprof = e.boolean("HTTP_PPROF", c.HTTP.EnablePprof)
	c.HTTP.MetricsNamespace = e.str("METRICS_NAMESPACE", "")

	c.Postgres.Host = e.str("DB_HOST", c.Postgres.Host)
	c.Postgres.Port = e.integer("DB_PORT", c.Postgres.Port)
	c.Postgres.User = e.str("DB_USER", c.Postgres.User)
	c.Postgres.Password = e.str("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.Database = e.str("DB_NAME", c.Postgres.Database)
	c.Postgres.SSLMode = e.str("DB_SSLMODE", c.Postgres.SSLMode)
	c.Postgres.MaxOpenConns = e.integer("DB_MAX_CONNS", c.Postgres.MaxOpenConns)
	c.Postgres.LockTimeout = e.duration("LOCK_TIMEOUT", c.Postgres.LockTimeout)
	c.MemoryMaxConns = e.integer("DB_MAX_CONNS", c.MemoryMaxConns)

	c.Resilience.CircuitBreakerConfig.Timeout = e.duration("CIRCUIT_TIMEOUT", c.Resilience.CircuitBreakerConfig.Timeout)

	c.Transfer.TransactionTimeout = e.duration("TRANSFER_TIMEOUT", c.Transfer.TransactionTimeout)

	c.Idempotency.Filter = e.boolean("IDEMPOTENCY_FILTER", c.Idempotency.Filter)
	c.Idempotency.ExpectedItems = uint(e.integer("IDEMPOTENCY_FILTER_CAPACITY", int(c.Idempotency.ExpectedItems)))

	seed, err := ParseSeed(e.str("SEED_ACCOUNTS", DefaultSeed))
	if err != nil {
		e.fail("SEED_ACCOUNTS", err)
	}
	c.Seed = seed

	if addr := e.str("REDIS_ADDR", ""); addr != "" {
		rc := redis.DefaultConfig()
		rc.Addr = addr
		rc.Password = e.str("REDIS_PASSWORD", "")
		rc.DB = e.integer("REDIS_DB", 0)
		rc.KeyPrefix = e.str("REDIS_KEY_PREFIX", rc.KeyPrefix)
		rc.Channel = e.str("REDIS_CHANNEL", rc.Channel)
		c.Redis = &rc
	}

	if brokers := e.list("KAFKA_BROKERS"); len(brokers) > 0 {
		kc := kafka.DefaultConfig()
		kc.Brokers = brokers
		kc.Topic = e.str("KAFKA_TOPIC", kc.Topic)
		c.Kafka = &kc
	}

	c.Dispatcher.QueueSize = e.integer("NOTIFY_QUEUE_SIZE", c.Dispatcher.QueueSize)
	c.Dispatcher.Workers = e.integer("NOTIFY_WORKERS", c.Dispatcher.Workers)

	c.Log = logging.DefaultConfig()
	if e.boolean("LOG_DEV", false) {
		c.Log = logging.DevelopmentConfig()
	}
	c.Log.Level = e.str("LOG_LEVEL", c.Log.Level)
	c.Log.Format = e.str("LOG_FORMAT", c.Log.Format)

	if err := e.err(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}
	if c.Postgres.MaxOpenConns < 1 || c.MemoryMaxConns < 1 {
		return errors.New("config: DB_MAX_CONNS: must be at least 1")
	}
	if c.Transfer.TransactionTimeout < 0 {
		return errors.New("config: TRANSFER_TIMEOUT: must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return nil
}

// ParseSeed parses "A=1000,B=500" into accounts. Ids must be unique and
// balances non-negative.
func ParseSeed(s string) ([]ledger.Account, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var accounts []ledger.Account
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		id, raw, ok := strings.Cut(strings.TrimSpace(part), "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid entry %q, want ID=BALANCE", part)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate account %q", id)
		}

		balance, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", id, err)
		}
		if balance.IsNegative() {
			return nil, fmt.Errorf("account %q: negative balance", id)
		}

		seen[id] = true
		accounts = append(accounts, ledger.Account{ID: id, Balance: balance})
	}
	return accounts, nil
}

// env reads typed values and collects every parse failure.
type env struct {
	errs []error
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
}

func (e *env) err() error {
	return errors.Join(e.errs...)
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	var out []string
	for _, item := range strings.Split(e.str(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
