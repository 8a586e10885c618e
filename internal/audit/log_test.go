package audit

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"launchpad.org/internal/auth"
	"launchpad.org/internal/events"
	"launchpad.org/internal/obs"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	obs.SetLogger(zap.New(core))
	t.Cleanup(func() { obs.SetLogger(nil) })
	return logs
}

func TestLogEvent(t *testing.T) {
	logs := observe(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{Address: common.Address{0x42}, Roles: []string{"owner"}})

	if err := LogEvent(ctx, "staker.halt", map[string]any{"halted": true}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	if err := LogEvent(ctx, "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.LoggerName != "audit" {
		t.Fatalf("unexpected logger: %s", entry.LoggerName)
	}
	fields := entry.ContextMap()
	if fields["event"] != "staker.halt" {
		t.Fatalf("unexpected event: %v", fields["event"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["account"] != (common.Address{0x42}).Hex() {
		t.Fatalf("unexpected account: %v", fields["account"])
	}
	extra, ok := fields["fields"].(map[string]any)
	if !ok || extra["halted"] != true {
		t.Fatalf("fields missing or incorrect: %v", fields["fields"])
	}
}

func TestSinkEmit(t *testing.T) {
	logs := observe(t)
	Sink{}.Emit(events.LockerChanged{Locker: common.Address{0x05}, Added: true})

	entries := logs.FilterField(zap.String("event", events.TypeLockerAdded)).All()
	if len(entries) != 1 {
		t.Fatalf("expected one event entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["locker"]; got != (common.Address{0x05}).Hex() {
		t.Fatalf("locker=%v", got)
	}
}
