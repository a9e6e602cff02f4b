package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/logging"
	"transfer-ledger/pkg/transfer"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ledger is the part of the transfer engine the HTTP layer needs.
type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (transfer.Result, error)
	State(ctx context.Context, limit int) (transfer.State, error)
	Ping(ctx context.Context) error
}

// Server exposes the ledger over HTTP.
type Server struct {
	ledger   Ledger
	registry *prometheus.Registry
	logger   *logging.Logger
	server   *http.Server
	router   *mux.Router
	config   ServerConfig

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu       sync.Mutex
	listener net.Listener
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration

	// MaxBodyBytes caps the POST /transfer body
	MaxBodyBytes int64

	// RetryAfter is sent with 503 responses
	RetryAfter time.Duration

	// MetricsNamespace prefixes the HTTP metrics
	MetricsNamespace string

	// EnablePprof enables Go profiling endpoints at /debug/pprof/*
	EnablePprof bool
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 1 << 16,
		RetryAfter:   time.Second,
		EnablePprof:  false,
	}
}

// NewServer builds the router and registers the HTTP metrics on registry.
// A nil registry gets a private one.
func NewServer(l Ledger, registry *prometheus.Registry, logger *logging.Logger, config ServerConfig) (*Server, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultServerConfig().MaxBodyBytes
	}

	s := &Server{
		ledger:   l,
		registry: registry,
		logger:   logger.Named("api"),
		config:   config,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.MetricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.MetricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	for _, c := range []prometheus.Collector{s.httpRequests, s.httpDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	r := mux.NewRouter()
	r.Use(s.metricsMiddleware, s.recoverMiddleware)

	r.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	r.HandleFunc("/debug/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})).Methods(http.MethodGet)

	if config.EnablePprof {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in a goroutine.
// Bind errors are returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("server listening", zap.String("address", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
