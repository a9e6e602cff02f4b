package resilience

import (
	"time"
)

// ResilientConfig configures the circuit breaker and timeouts around a store.
type ResilientConfig struct {
	// Name labels the breaker in logs and metrics (default: "store")
	Name string

	// ReadTimeout bounds each non-transactional call (reads, ping, seeding).
	// Transactions are bounded by the caller's context instead.
	ReadTimeout time.Duration

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If nil, the breaker trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig trips on a 50% failure rate over at least 10 calls
// and probes again after 10s.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Name:        "store",
		ReadTimeout: 3 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				if counts.Requests < 10 {
					return false
				}
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= 0.5
			},
		},
	}
}

// WithReadTimeout returns a copy of the config with the specified read timeout.
func (c ResilientConfig) WithReadTimeout(timeout time.Duration) ResilientConfig {
	c.ReadTimeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified open-state period.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}
