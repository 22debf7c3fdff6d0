package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerWritesObjectField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := New(zap.New(core))

	log.WarnObj("upload failed", "image_error", map[string]any{"page": 3})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].Message != "upload failed" {
		t.Fatalf("unexpected entry %#v", entries[0].Entry)
	}
	field, ok := entries[0].ContextMap()["image_error"].(map[string]any)
	if !ok || field["page"] != 3 {
		t.Fatalf("image_error field = %#v", entries[0].ContextMap()["image_error"])
	}
}

func TestEnsureFallsBackToNop(t *testing.T) {
	if _, ok := Ensure(nil).(NopLogger); !ok {
		t.Fatalf("expected NopLogger for nil input")
	}
	zl := New(nil)
	if Ensure(zl) != Logger(zl) {
		t.Fatalf("expected logger to be returned unchanged")
	}
}
