package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNamedUsesProcessLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	Named("engine").Info("connected")
	Warn("retrying", zap.String("command", "010C"))

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("got %d entries", len(all))
	}
	if all[0].LoggerName != "engine" {
		t.Errorf("logger name = %q, want engine", all[0].LoggerName)
	}
	if all[1].Level != zapcore.WarnLevel || all[1].ContextMap()["command"] != "010C" {
		t.Errorf("entry = %+v", all[1])
	}
}

func TestSetNilRestoresNop(t *testing.T) {
	Set(nil)
	if L() == nil {
		t.Fatal("nil logger")
	}
	L().Info("discarded")
}
