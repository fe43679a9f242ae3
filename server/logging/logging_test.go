package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, debug := range []bool{false, true} {
		l, err := New(debug, false)
		if err != nil {
			t.Fatalf("New(%v): %v", debug, err)
		}
		if got := l.Core().Enabled(zapcore.DebugLevel); got != debug {
			t.Fatalf("New(%v) debug enabled = %v", debug, got)
		}
	}
}

func TestSessionField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Session(zap.New(core), "s-1").Info("hello")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if got := entries[0].ContextMap()["session"]; got != "s-1" {
		t.Fatalf("session field = %v", got)
	}
	// nil parent is a no-op logger
	Session(nil, "x").Info("dropped")
}
