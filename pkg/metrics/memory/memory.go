package memory

import (
	"sync"
	"time"

	"transfer-ledger/pkg/metrics"
)

// MemoryCollector implements metrics.Collector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	outcomes      map[string]int64
	latencies     map[string][]time.Duration
	balances      map[string]float64
	circuits      map[string]*CircuitMetrics
	notifications map[string]*NotificationMetrics
}

// CircuitMetrics holds breaker state for one component.
type CircuitMetrics struct {
	State metrics.CircuitState
	Opens int64
}

// NotificationMetrics holds delivery counters for one sink.
type NotificationMetrics struct {
	Success    int64
	Errors     int64
	Dropped    int64
	QueueDepth int
	Latencies  []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.outcomes = make(map[string]int64)
	mc.latencies = make(map[string][]time.Duration)
	mc.balances = make(map[string]float64)
	mc.circuits = make(map[string]*CircuitMetrics)
	mc.notifications = make(map[string]*NotificationMetrics)
}

// sink returns the NotificationMetrics for name. Callers hold mc.mu.
func (mc *MemoryCollector) sink(name string) *NotificationMetrics {
	nm, ok := mc.notifications[name]
	if !ok {
		nm = &NotificationMetrics{}
		mc.notifications[name] = nm
	}
	return nm
}

// RecordTransfer counts a transfer outcome.
func (mc *MemoryCollector) RecordTransfer(outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.outcomes[outcome]++
	mc.latencies[outcome] = append(mc.latencies[outcome], duration)
}

// RecordBalance stores the last balance of an account.
func (mc *MemoryCollector) RecordBalance(account string, balance float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.balances[account] = balance
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(component string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	cm, ok := mc.circuits[component]
	if !ok {
		cm = &CircuitMetrics{}
		mc.circuits[component] = cm
	}

	// Count transitions to open
	if cm.State != metrics.CircuitOpen && state == metrics.CircuitOpen {
		cm.Opens++
	}
	cm.State = state
}

// RecordNotification records a delivery attempt.
func (mc *MemoryCollector) RecordNotification(sink string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	nm := mc.sink(sink)
	if success {
		nm.Success++
	} else {
		nm.Errors++
	}
	nm.Latencies = append(nm.Latencies, duration)
}

// RecordNotificationDropped records a dropped notification.
func (mc *MemoryCollector) RecordNotificationDropped(sink string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.sink(sink).Dropped++
}

// RecordQueueDepth records the current notification queue depth.
func (mc *MemoryCollector) RecordQueueDepth(sink string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.sink(sink).QueueDepth = depth
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Outcomes      map[string]int64
	Balances      map[string]float64
	Circuits      map[string]CircuitMetrics
	Notifications map[string]NotificationMetrics
}

// Total returns the number of recorded transfers across all outcomes.
func (s Snapshot) Total() int64 {
	var total int64
	for _, n := range s.Outcomes {
		total += n
	}
	return total
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		Outcomes:      make(map[string]int64, len(mc.outcomes)),
		Balances:      make(map[string]float64, len(mc.balances)),
		Circuits:      make(map[string]CircuitMetrics, len(mc.circuits)),
		Notifications: make(map[string]NotificationMetrics, len(mc.notifications)),
	}
	for k, v := range mc.outcomes {
		snapshot.Outcomes[k] = v
	}
	for k, v := range mc.balances {
		snapshot.Balances[k] = v
	}
	for k, v := range mc.circuits {
		snapshot.Circuits[k] = *v
	}
	for k, v := range mc.notifications {
		nm := *v
		nm.Latencies = append([]time.Duration(nil), v.Latencies...)
		snapshot.Notifications[k] = nm
	}
	return snapshot
}

// Latencies returns the recorded durations of an outcome.
func (mc *MemoryCollector) Latencies(outcome string) []time.Duration {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return append([]time.Duration(nil), mc.latencies[outcome]...)
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.reset()
}

var _ metrics.Collector = (*MemoryCollector)(nil)
