package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"", zapcore.InfoLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(DefaultConfig())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("Expected info to be enabled")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug to be disabled")
	}

	named := logger.Named("transfer").With(OperationID("op1"), Accounts("A", "B"))
	named.Info("ok", Outcome("success"))
}

func TestNewLogger_Development(t *testing.T) {
	logger, err := NewLogger(DevelopmentConfig())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug to be enabled in development")
	}
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := NewLogger(Config{Format: "xml"}); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNewNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("Expected no-op logger to discard everything")
	}
}
