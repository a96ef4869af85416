package displayer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"obdrelay/internal/models"
)

type fakeController struct {
	clearErr error
	cleared  int
}

func (f *fakeController) ClearTroubleCodes(context.Context) error {
	f.cleared++
	return f.clearErr
}

func (f *fakeController) DetectProtocol(context.Context) (int, string, error) {
	return 6, "ISO 15765-4 CAN (11 bit ID, 500 kbaud)", nil
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		state models.ConnectionState
		want  string
	}{
		{models.ConnectionState{Status: models.StatusConnectedWiFi}, "[green]connected (wifi)"},
		{models.ConnectionState{Status: models.StatusConnecting}, "[yellow]connecting"},
		{models.Failed("no adapter"), "[red]failed: no adapter"},
	}
	for _, tt := range tests {
		if got := statusLine(tt.state, ""); !strings.Contains(got, tt.want) {
			t.Errorf("statusLine(%s) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestDashboardLines(t *testing.T) {
	if got := dashboardLines(models.VehicleSample{}, models.UploadResult{}); len(got) != 1 {
		t.Errorf("before first cycle = %v", got)
	}

	s := models.VehicleSample{
		Cycle: 3, DataValid: true, PIDsRead: 9, PIDsTotal: 11,
		RPM: 1500, Voltage: 12.64, MILOn: true, DTCCount: 2,
		Protocol: 6, ProtocolName: "CAN", Runtime: 125,
	}
	up := models.UploadResult{OK: true, Attempts: 1, At: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	text := strings.Join(dashboardLines(s, up), "\n")
	for _, want := range []string{"Cycle: 3", "9/11 read", "RPM: 1500", "Battery (V): 12.64", "[red]ON", "DTCs: 2", "6 (CAN)", "2m5s", "upload ok"} {
		if !strings.Contains(text, want) {
			t.Errorf("dashboard lacks %q:\n%s", want, text)
		}
	}
}

func TestKeyActionsUseController(t *testing.T) {
	ctrl := &fakeController{}
	d := New(ctrl)

	d.clearCodes()
	if ctrl.cleared != 1 || d.notice != "trouble codes cleared" {
		t.Errorf("cleared=%d notice=%q", ctrl.cleared, d.notice)
	}

	ctrl.clearErr = errors.New("not connected")
	d.clearCodes()
	if !strings.Contains(d.notice, "not connected") {
		t.Errorf("notice = %q", d.notice)
	}

	d.detectProtocol()
	if !strings.HasPrefix(d.notice, "protocol 6:") {
		t.Errorf("notice = %q", d.notice)
	}
}

func TestUpdatesBeforeRunDoNotBlock(t *testing.T) {
	d := New(&fakeController{})
	for i := 0; i < 500; i++ {
		d.SampleUpdated(models.VehicleSample{Cycle: i})
	}
	d.ConnectionChanged(models.Disconnected("bye"))
	if d.state.Reason != "bye" || d.sample.Cycle != 499 {
		t.Errorf("state=%s cycle=%d", d.state, d.sample.Cycle)
	}
}
