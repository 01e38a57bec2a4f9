package gozap

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-contact-sync/core"
)

func TestLogger_WritesKeyValuePairs(t *testing.T) {
	zcore, logs := observer.New(zapcore.DebugLevel)
	logger := New(zap.New(zcore))

	logger.Info("sync finished", "connection_id", "c1", "contacts", 3)
	logger.Trace("trace maps to debug")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["connection_id"] != "c1" {
		t.Fatalf("expected connection_id field, got %v", fields)
	}
	if fields["contacts"] != int64(3) {
		t.Fatalf("expected contacts field 3, got %v", fields["contacts"])
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("expected trace at debug level, got %s", entries[1].Level)
	}
}

func TestProvider_NamesLoggers(t *testing.T) {
	zcore, logs := observer.New(zapcore.InfoLevel)
	provider := NewProvider(zap.New(zcore))

	provider.GetLogger("jobs").Info("hello")
	provider.GetLogger("").Debug("filtered")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected debug entry to be filtered, got %d entries", len(entries))
	}
	if entries[0].LoggerName != "jobs" {
		t.Fatalf("expected logger name jobs, got %q", entries[0].LoggerName)
	}
}

func TestObserverLogsThroughZap(t *testing.T) {
	zcore, logs := observer.New(zapcore.DebugLevel)
	observerLog := core.NewObserver("contact_sync", New(zap.New(zcore)), nil)

	observerLog.Warn(context.Background(), "cache invalidation failed", map[string]any{"user_id": "u1"})

	entries := logs.FilterMessage("cache invalidation failed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %+v", entries)
	}
	if entries[0].ContextMap()["user_id"] != "u1" {
		t.Fatalf("expected user_id field")
	}
}

func TestNewBase_RejectsUnknownLevel(t *testing.T) {
	if _, err := NewBase("loud", false); err == nil {
		t.Fatalf("expected invalid level error")
	}
	logger, err := NewBase("warn", true)
	if err != nil {
		t.Fatalf("new base: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info disabled at warn level")
	}
}
