package elm

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"obdrelay/internal/obd"
)

// scriptedExchanger answers from a map and records the command order.
type scriptedExchanger struct {
	replies map[string]string
	sent    []string
	err     error
}

func (s *scriptedExchanger) Exchange(_ context.Context, cmd string, _ int) (string, error) {
	s.sent = append(s.sent, cmd)
	if s.err != nil {
		return "", s.err
	}
	if r, ok := s.replies[cmd]; ok {
		return r, nil
	}
	return "OK", nil
}

func newTestInitializer(ex Exchanger, logger *zap.Logger) *Initializer {
	return NewInitializer(ex, InitConfig{Retries: 0, Logger: logger})
}

func TestInitializerSequence(t *testing.T) {
	ex := &scriptedExchanger{replies: map[string]string{
		"ATZ":  "ELM327 v1.5",
		"0100": "4100BE3FA813",
		"ATRV": "12.4V",
	}}
	probe, err := newTestInitializer(ex, zap.NewNop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if probe.Voltage != 12.4 || probe.NoVehicle {
		t.Errorf("probe = %+v", probe)
	}

	want := []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH0", "ATSP0", "0100", "ATRV"}
	if len(ex.sent) != len(want) {
		t.Fatalf("sent %v, want %v", ex.sent, want)
	}
	for i := range want {
		if ex.sent[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, ex.sent[i], want[i])
		}
	}
}

func TestInitializerToleratesResetFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ex := &scriptedExchanger{replies: map[string]string{
		"ATZ":  "?",
		"ATRV": "12.1V",
	}}
	ini := newTestInitializer(ex, zap.New(core))
	if _, err := ini.Run(context.Background()); err != nil {
		t.Fatalf("reset failure must not be fatal: %v", err)
	}
	if ini.ResetFailures() != 1 {
		t.Errorf("ResetFailures = %d, want 1", ini.ResetFailures())
	}
	if logs.FilterMessage("adapter reset reported failure, continuing").Len() != 1 {
		t.Error("expected a distinct reset failure log entry")
	}
}

func TestInitializerNoVehicle(t *testing.T) {
	ex := &scriptedExchanger{replies: map[string]string{
		"0100": "SEARCHING...\r\nUNABLE TO CONNECT",
		"ATRV": "SEARCHING...\r\nUNABLE TO CONNECT",
	}}
	probe, err := newTestInitializer(ex, zap.NewNop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !probe.NoVehicle {
		t.Errorf("expected NoVehicle probe, got %+v", probe)
	}
}

func TestInitializerProbeFails(t *testing.T) {
	ex := &scriptedExchanger{replies: map[string]string{"ATRV": Timeout}}
	_, err := newTestInitializer(ex, zap.NewNop()).Run(context.Background())
	if !errors.Is(err, ErrAdapterNotResponding) {
		t.Fatalf("err = %v, want ErrAdapterNotResponding", err)
	}
}

func TestInitializerTransportError(t *testing.T) {
	ex := &scriptedExchanger{err: obd.ErrClosed}
	_, err := newTestInitializer(ex, zap.NewNop()).Run(context.Background())
	if !errors.Is(err, obd.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if len(ex.sent) != 1 {
		t.Errorf("sequence should stop at the first transport error, sent %v", ex.sent)
	}
}

func TestSequenceSettleDelays(t *testing.T) {
	steps := Sequence(1, 15)
	for _, s := range steps {
		long := s.Command == CommandReset || s.Command == CommandSetProtocolAuto
		if long && s.Settle != 15 {
			t.Errorf("%s settle = %v, want long", s.Command, s.Settle)
		}
		if !long && s.Settle != 1 {
			t.Errorf("%s settle = %v, want short", s.Command, s.Settle)
		}
	}
}
