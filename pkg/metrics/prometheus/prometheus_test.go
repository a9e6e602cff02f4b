package prometheus

import (
	"strings"
	"testing"
	"time"

	"transfer-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollector_Register(t *testing.T) {
	pc := NewPrometheusCollector("")
	registry := prometheus.NewRegistry()

	if err := pc.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Registering twice must fail
	if err := pc.Register(registry); err == nil {
		t.Error("Expected duplicate registration error")
	}
}

func TestPrometheusCollector_Transfers(t *testing.T) {
	pc := NewPrometheusCollector("")
	registry := prometheus.NewRegistry()
	pc.Register(registry)

	pc.RecordTransfer("success", 2*time.Millisecond)
	pc.RecordTransfer("success", 3*time.Millisecond)
	pc.RecordTransfer("insufficient_funds", time.Millisecond)
	pc.RecordBalance("A", 800)

	if got := testutil.ToFloat64(pc.transferRequests.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successes, got %v", got)
	}

	expected := `
# HELP account_balance Last committed balance per account
# TYPE account_balance gauge
account_balance{account="A"} 800
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "account_balance"); err != nil {
		t.Errorf("Unexpected account_balance: %v", err)
	}

	if n := testutil.CollectAndCount(pc.transferRequests); n != 2 {
		t.Errorf("Expected 2 result series, got %d", n)
	}
}

func TestPrometheusCollector_Namespace(t *testing.T) {
	pc := NewPrometheusCollector("ledger")
	registry := prometheus.NewRegistry()
	pc.Register(registry)

	pc.RecordTransfer("success", time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := false
	for _, mf := range families {
		if mf.GetName() == "ledger_transfer_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected ledger_transfer_requests_total to be gathered")
	}
}

func TestPrometheusCollector_CircuitAndNotifications(t *testing.T) {
	pc := NewPrometheusCollector("")

	pc.RecordCircuitState("store", metrics.CircuitOpen)
	pc.RecordCircuitState("store", metrics.CircuitHalfOpen)
	pc.RecordNotification("kafka", false, time.Millisecond)
	pc.RecordNotificationDropped("kafka")
	pc.RecordQueueDepth("kafka", 7)

	if got := testutil.ToFloat64(pc.circuitOpens.WithLabelValues("store")); got != 1 {
		t.Errorf("Expected 1 open, got %v", got)
	}
	if got := testutil.ToFloat64(pc.circuitState.WithLabelValues("store")); got != float64(metrics.CircuitHalfOpen) {
		t.Errorf("Expected half-open gauge, got %v", got)
	}
	if got := testutil.ToFloat64(pc.notifications.WithLabelValues("kafka", "error")); got != 1 {
		t.Errorf("Expected 1 failed notification, got %v", got)
	}
	if got := testutil.ToFloat64(pc.queueDepth.WithLabelValues("kafka")); got != 7 {
		t.Errorf("Expected queue depth 7, got %v", got)
	}
}
