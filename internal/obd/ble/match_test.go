package ble

import (
	"errors"
	"testing"
)

func TestMatchName(t *testing.T) {
	tests := []struct {
		name string
		rssi int16
		want Match
	}{
		{"OBDII", -90, MatchKeyword},
		{"vLinker v-link MC+", -95, MatchKeyword},
		{"Veepeak OBDCheck BLE", -80, MatchKeyword},
		{"IOS-Vlink", -60, MatchSignal},
		{"kiwi 3", -99, MatchKeyword},
		{"Galaxy Buds", -50, MatchSignal},
		{"Galaxy Buds", -85, MatchNone},
		{"", -30, MatchNone},
	}
	for _, tt := range tests {
		if got := MatchName(tt.name, tt.rssi, DefaultKeywords, DefaultRSSIThreshold); got != tt.want {
			t.Errorf("MatchName(%q, %d) = %v, want %v", tt.name, tt.rssi, got, tt.want)
		}
	}
}

func TestMatchNameCustomKeywords(t *testing.T) {
	if MatchName("Carista", -90, []string{"carista"}, -100) != MatchKeyword {
		t.Error("custom keyword should match case-insensitively")
	}
	if MatchName("OBDII", -90, []string{"carista"}, -60) != MatchNone {
		t.Error("default keywords must not apply when overridden")
	}
}

func TestSelectCharacteristics(t *testing.T) {
	tests := []struct {
		name          string
		chars         []Characteristic
		write, notify int
		err           error
	}{
		{
			name:  "single combined characteristic",
			chars: []Characteristic{{"ffe1", PropNotify | PropWriteWithoutResponse | PropWrite}},
			write: 0, notify: 0,
		},
		{
			name: "prefers write without response",
			chars: []Characteristic{
				{"a", PropWrite},
				{"b", PropNotify},
				{"c", PropWriteWithoutResponse},
			},
			write: 2, notify: 1,
		},
		{
			name: "falls back to write and indicate",
			chars: []Characteristic{
				{"a", PropIndicate},
				{"b", PropWrite},
			},
			write: 1, notify: 0,
		},
		{
			name:  "nothing writable",
			chars: []Characteristic{{"a", PropNotify}},
			write: -1, notify: -1, err: ErrNoWritableCharacteristic,
		},
		{
			name:  "nothing to listen on",
			chars: []Characteristic{{"a", PropWrite}},
			write: -1, notify: -1, err: ErrNoNotifyCharacteristic,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, n, err := SelectCharacteristics(tt.chars)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if w != tt.write || n != tt.notify {
				t.Errorf("got write=%d notify=%d, want %d %d", w, n, tt.write, tt.notify)
			}
		})
	}
}

func TestKnownProperties(t *testing.T) {
	if p := KnownProperties("0000FFE1-0000-1000-8000-00805F9B34FB"); p&PropNotify == 0 || p&PropWrite == 0 {
		t.Errorf("ffe1 props = %b, want notify and write", p)
	}
	if p := KnownProperties("0000fff1-0000-1000-8000-00805f9b34fb"); p != PropNotify {
		t.Errorf("fff1 props = %b, want notify only", p)
	}
	if p := KnownProperties("0000180a-0000-1000-8000-00805f9b34fb"); p != 0 {
		t.Errorf("device information service should be unknown, got %b", p)
	}
}
