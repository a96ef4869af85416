package elm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"obdrelay/internal/obd"
	"obdrelay/internal/obd/mock"
)

func fastTiming() Timing {
	return Timing{
		ResponseTimeout:   50 * time.Millisecond,
		SearchingCeiling:  120 * time.Millisecond,
		SearchPoll:        10 * time.Millisecond,
		RetryDelay:        5 * time.Millisecond,
		TimeoutRetryDelay: 2 * time.Millisecond,
	}
}

func connected(t *testing.T, a *mock.Adapter) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return NewChannel(a, fastTiming(), zap.NewNop())
}

func TestExchangeTerminal(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	ch := connected(t, a)

	resp, err := ch.Exchange(context.Background(), "ATE0", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "OK" {
		t.Errorf("resp = %q, want OK", resp)
	}
	if sent := a.Sent(); len(sent) != 1 || sent[0] != "ATE0" {
		t.Errorf("sent = %v", sent)
	}
}

func TestExchangeRetriesThenSucceeds(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("010C", "ERROR\r\r>", "BUS INIT: ...ERROR\r\r>", "410C0FA0\r\r>")
	ch := connected(t, a)

	resp, err := ch.Exchange(context.Background(), "010C", 3)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "410C0FA0" {
		t.Errorf("resp = %q", resp)
	}
	if n := len(a.Sent()); n != 3 {
		t.Errorf("sent %d times, want 3", n)
	}
}

func TestExchangeRetryBound(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("010C", "ERROR\r\r>")
	ch := connected(t, a)

	resp, err := ch.Exchange(context.Background(), "010C", 2)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ERROR" {
		t.Errorf("resp = %q, want ERROR", resp)
	}
	if n := len(a.Sent()); n != 3 {
		t.Errorf("sent %d times, want 1 + 2 retries", n)
	}
}

func TestExchangeTimeoutSentinel(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("010C", "")
	ch := connected(t, a)

	resp, err := ch.Exchange(context.Background(), "010C", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp != Timeout {
		t.Errorf("resp = %q, want %q", resp, Timeout)
	}
}

func TestExchangePartialAtTimeout(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("010C", "410C0F")
	ch := connected(t, a)

	resp, err := ch.Exchange(context.Background(), "010C", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "410C0F" {
		t.Errorf("resp = %q, want partial buffer", resp)
	}
}

func TestExchangeSearchingTimeout(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("0100", "SEARCHING...\r\n")
	ch := connected(t, a)

	start := time.Now()
	resp, err := ch.Exchange(context.Background(), "0100", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp != SearchingTimeout {
		t.Errorf("resp = %q, want %q", resp, SearchingTimeout)
	}
	// must outlast the plain response timeout
	if elapsed := time.Since(start); elapsed < fastTiming().SearchingCeiling {
		t.Errorf("returned after %v, before the searching ceiling", elapsed)
	}
}

func TestExchangeSearchingAbortsOnError(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("0100", "SEARCHING...\r\nUNABLE TO CONNECT")
	ch := connected(t, a)

	resp, err := ch.Exchange(context.Background(), "0100", 3)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "SEARCHING...\r\nUNABLE TO CONNECT" {
		t.Errorf("resp = %q", resp)
	}
	if n := len(a.Sent()); n != 1 {
		t.Errorf("no-vehicle reply must not be retried, sent %d", n)
	}
}

func TestExchangeSearchingThenData(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("0100", "SEARCHING...\r\n4100BE3FA813\r\r>")
	ch := connected(t, a)

	resp, err := ch.Exchange(context.Background(), "0100", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "SEARCHING...\r\n4100BE3FA813" {
		t.Errorf("resp = %q", resp)
	}
}

func TestExchangeClosedTransport(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	ch := connected(t, a)
	a.Drop()

	_, err := ch.Exchange(context.Background(), "ATE0", 3)
	if err == nil {
		t.Fatal("expected error on closed transport")
	}
	if !errors.Is(err, obd.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestExchangeCancelled(t *testing.T) {
	a := mock.New(obd.KindWiFi)
	a.Script("010C", "ERROR\r\r>")
	ch := connected(t, a)
	ch.timing.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := ch.Exchange(ctx, "010C", 3)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDefaultTimingByKind(t *testing.T) {
	if DefaultTiming(obd.KindWiFi).ResponseTimeout != 10*time.Second {
		t.Error("wifi response timeout should be 10s")
	}
	if DefaultTiming(obd.KindBluetooth).ResponseTimeout != 30*time.Second {
		t.Error("ble response timeout should be 30s")
	}
}
