package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transfer-ledger/pkg/api"
	"transfer-ledger/pkg/config"
	"transfer-ledger/pkg/idempotency"
	"transfer-ledger/pkg/logging"
	"transfer-ledger/pkg/metrics"
	promMetrics "transfer-ledger/pkg/metrics/prometheus"
	"transfer-ledger/pkg/notify"
	"transfer-ledger/pkg/notify/kafka"
	"transfer-ledger/pkg/notify/redis"
	"transfer-ledger/pkg/resilience"
	"transfer-ledger/pkg/store"
	"transfer-ledger/pkg/store/memory"
	"transfer-ledger/pkg/store/postgres"
	"transfer-ledger/pkg/transfer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ledger-api failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := promMetrics.NewPrometheusCollector(cfg.HTTP.MetricsNamespace)
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var s store.Store = backend
	if cfg.CircuitBreaker {
		s = resilience.NewResilientStore(backend, cfg.Resilience, collector, logger)
	}
	defer s.Close()

	if err := s.EnsureAccounts(ctx, cfg.Seed...); err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	logger.Info("accounts seeded", zap.Int("count", len(cfg.Seed)))

	idem := idempotency.New(cfg.Idempotency)
	if idem.Filtered() {
		n, err := idem.Warm(ctx, s)
		if err != nil {
			return fmt.Errorf("warm idempotency filter: %w", err)
		}
		logger.Info("idempotency filter warmed", zap.Int("operations", n))
	}

	notifier, closeSinks, err := openSinks(cfg, collector, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	engine := transfer.New(s, cfg.Transfer,
		transfer.WithRegistry(idem),
		transfer.WithMetrics(collector),
		transfer.WithNotifier(notifier),
		transfer.WithLogger(logger),
	)
	if err := engine.RecordBalances(ctx); err != nil {
		logger.Warn("initial balance gauges not recorded", zap.Error(err))
	}

	server, err := api.NewServer(engine, registry, logger, cfg.HTTP)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("ledger-api started",
		zap.String("address", server.Addr()),
		zap.String("store", cfg.StoreDriver),
		zap.Bool("circuit_breaker", cfg.CircuitBreaker),
		zap.Bool("idempotency_filter", idem.Filtered()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping server", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(memory.Config{MaxConns: cfg.MemoryMaxConns}), nil
	default:
		s, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		logger.Info("connected to postgres",
			zap.String("host", cfg.Postgres.Host),
			zap.String("database", cfg.Postgres.Database),
			zap.Int("max_conns", cfg.Postgres.MaxOpenConns),
		)
		return s, nil
	}
}

// openSinks builds one dispatcher per configured sink. The returned func
// drains and closes them in order.
func openSinks(cfg config.Config, collector metrics.Collector, logger *logging.Logger) (notify.Notifier, func(), error) {
	var dispatchers []*notify.Dispatcher
	closeAll := func() {
		for _, d := range dispatchers {
			if err := d.Close(); err != nil {
				logger.Error("error closing notification sink", zap.Error(err))
			}
		}
	}

	if cfg.Kafka != nil {
		sink, err := kafka.New(*cfg.Kafka)
		if err != nil {
			return nil, closeAll, fmt.Errorf("kafka sink: %w", err)
		}
		dispatchers = append(dispatchers, notify.NewDispatcher(sink, cfg.Dispatcher, collector, logger))
		logger.Info("kafka sink enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Redis != nil {
		sink, err := redis.New(*cfg.Redis)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("redis sink: %w", err)
		}
		dispatchers = append(dispatchers, notify.NewDispatcher(sink, cfg.Dispatcher, collector, logger))
		logger.Info("redis sink enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if len(dispatchers) == 0 {
		return notify.Nop{}, closeAll, nil
	}

	multi := make(notify.Multi, 0, len(dispatchers))
	for _, d := range dispatchers {
		multi = append(multi, d)
	}
	return multi, closeAll, nil
}
