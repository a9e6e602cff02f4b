package metrics

import (
	"time"
)

// Collector receives observability signals from the transfer path.
// Implementations must be safe for concurrent use and must never block the caller.
type Collector interface {
	// Transfers
	RecordTransfer(outcome string, duration time.Duration)
	RecordBalance(account string, balance float64)

	// Storage circuit breaker
	RecordCircuitState(component string, state CircuitState)

	// Post-commit notifications
	RecordNotification(sink string, success bool, duration time.Duration)
	RecordNotificationDropped(sink string)
	RecordQueueDepth(sink string, depth int)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordTransfer(outcome string, duration time.Duration)               {}
func (NoOpCollector) RecordBalance(account string, balance float64)                       {}
func (NoOpCollector) RecordCircuitState(component string, state CircuitState)             {}
func (NoOpCollector) RecordNotification(sink string, success bool, duration time.Duration) {}
func (NoOpCollector) RecordNotificationDropped(sink string)                               {}
func (NoOpCollector) RecordQueueDepth(sink string, depth int)                             {}
