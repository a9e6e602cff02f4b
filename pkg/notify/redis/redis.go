package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"transfer-ledger/pkg/notify"

	"github.com/redis/rueidis"
)

// Sink keeps a snapshot of the latest committed balance of each account in Redis
// and publishes every event on a channel.
//
// Each snapshot is a hash with fields balance and version. Events may arrive in
// any order, so a write only lands when its version is newer than the stored one.
type Sink struct {
	client rueidis.Client
	config Config
}

// setBalance writes KEYS[1] = {balance: ARGV[1], version: ARGV[2]} unless the
// stored version is already at least ARGV[2]. ARGV[3] is a TTL in milliseconds,
// 0 for none. Returns 1 when written.
var setBalance = rueidis.NewLuaScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'balance', ARGV[1], 'version', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Config configures the Redis sink.
type Config struct {
	// Addr is the Redis server address for single node mode.
	Addr string
	// ClusterAddrs enables cluster mode when set.
	ClusterAddrs []string
	Username     string
	Password     string
	DB           int
	// KeyPrefix is prepended to balance keys: <prefix>balance:<account>
	KeyPrefix string
	// Channel receives the JSON-encoded event
	Channel      string
	BalanceTTL   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default sink configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:",
		Channel:      "ledger:transfers",
		BalanceTTL:   0,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// New connects to Redis and verifies the server answers PING.
func New(config Config) (*Sink, error) {
	var initAddress []string
	if len(config.ClusterAddrs) > 0 {
		initAddress = config.ClusterAddrs
	} else if config.Addr != "" {
		initAddress = []string{config.Addr}
	} else {
		return nil, fmt.Errorf("redis: no addresses configured (set Addr or ClusterAddrs)")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &Sink{client: client, config: config}, nil
}

func (s *Sink) Name() string {
	return "redis"
}

// BalanceKey returns the key holding the snapshot of account.
func (s *Sink) BalanceKey(account string) string {
	return s.config.KeyPrefix + "balance:" + account
}

// Send writes the balance snapshots, skipping any that are older than what Redis
// holds, then publishes the event.
func (s *Sink) Send(ctx context.Context, event notify.TransferCompleted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	version := strconv.FormatInt(event.Version, 10)
	ttl := strconv.FormatInt(s.config.BalanceTTL.Milliseconds(), 10)

	sets := make([]rueidis.LuaExec, 0, len(event.Balances))
	for account, balance := range event.Balances {
		sets = append(sets, rueidis.LuaExec{
			Keys: []string{s.BalanceKey(account)},
			Args: []string{balance.String(), version, ttl},
		})
	}

	var errs []error
	for _, resp := range setBalance.ExecMulti(ctx, s.client, sets...) {
		if err := resp.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	publish := s.client.B().Publish().Channel(s.config.Channel).Message(string(data)).Build()
	if err := s.client.Do(ctx, publish).Error(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("redis: send %s: %w", event.TransferID, errors.Join(errs...))
	}
	return nil
}

// Balance reads the snapshot of account. Returns rueidis nil error when absent.
func (s *Sink) Balance(ctx context.Context, account string) (string, error) {
	return s.client.Do(ctx, s.client.B().Hget().Key(s.BalanceKey(account)).Field("balance").Build()).ToString()
}

// BalanceVersion reads the version of the snapshot of account.
func (s *Sink) BalanceVersion(ctx context.Context, account string) (int64, error) {
	return s.client.Do(ctx, s.client.B().Hget().Key(s.BalanceKey(account)).Field("version").Build()).AsInt64()
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

var _ notify.Sink = (*Sink)(nil)
