package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bountydotnew/querykit"
)

func TestFieldsAreForwarded(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}.Named("cache")

	l.Warn("refetch failed", querykit.Fields{"key": "bounties", "err": errors.New("boom")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "cache" || e.Level != zapcore.WarnLevel {
		t.Fatalf("unexpected entry %+v", e.Entry)
	}
	ctx := e.ContextMap()
	if ctx["key"] != "bounties" || ctx["error"] != "boom" {
		t.Fatalf("unexpected fields %v", ctx)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(true, "loud"); err == nil {
		t.Fatalf("expected level parse error")
	}
}
