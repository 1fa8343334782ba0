package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLoggerLevels(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	defer dev.Sync() //nolint:errcheck // best-effort flush
	if !dev.Core().Enabled(zap.DebugLevel) {
		t.Error("development logger should emit debug lines")
	}

	prod, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer prod.Sync() //nolint:errcheck // best-effort flush
	if prod.Core().Enabled(zap.DebugLevel) {
		t.Error("production logger should start at info")
	}
	prod.Info("logger ready", zap.String("component", "logging"))
}
