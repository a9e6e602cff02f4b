package resilience

import (
	"testing"
	"time"
)

func TestDefaultResilientConfig(t *testing.T) {
	config := DefaultResilientConfig()

	if config.Name != "store" {
		t.Errorf("Expected name store, got %q", config.Name)
	}
	if config.ReadTimeout != 3*time.Second {
		t.Errorf("Expected read timeout 3s, got %v", config.ReadTimeout)
	}
	if config.CircuitBreakerConfig.Timeout != 10*time.Second {
		t.Errorf("Expected CB timeout 10s, got %v", config.CircuitBreakerConfig.Timeout)
	}

	trip := config.CircuitBreakerConfig.ReadyToTrip
	if trip == nil {
		t.Fatal("Expected ReadyToTrip function to be set")
	}
	if trip(Counts{Requests: 9, TotalFailures: 9}) {
		t.Error("Should not trip below 10 requests")
	}
	if trip(Counts{Requests: 10, TotalFailures: 4}) {
		t.Error("Should not trip at 40% failures")
	}
	if !trip(Counts{Requests: 10, TotalFailures: 5}) {
		t.Error("Should trip at 50% failures")
	}
}

func TestResilientConfig_With(t *testing.T) {
	config := DefaultResilientConfig()

	changed := config.WithReadTimeout(time.Second).WithCircuitBreakerTimeout(time.Minute)
	if changed.ReadTimeout != time.Second || changed.CircuitBreakerConfig.Timeout != time.Minute {
		t.Errorf("Unexpected config: %+v", changed)
	}

	// Verify original is unchanged
	if config.ReadTimeout != 3*time.Second || config.CircuitBreakerConfig.Timeout != 10*time.Second {
		t.Errorf("Original config changed: %+v", config)
	}
}
