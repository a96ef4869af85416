package elm

import "testing"

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		resp string
		want bool
	}{
		{"ERROR", true},
		{"SEARCHING UNABLE TO CONNECT", false},
		{"SEARCHING...\r\nNO DATA", false},
		{"", true},
		{"   ", true},
		{"OK", false},
		{"UNABLE TO CONNECT", false},
		{"BUS INIT: ...ERROR", true},
		{"CAN ERROR", true},
		{"BUFFER FULL", true},
		{"?", true},
		{Timeout, true},
		{SearchingTimeout, true},
		{"SEARCHING...", true},
		{"SEARCHING...\r41 0C 0F A0", false},
		{"410C0FA0", false},
		{"12.6V", false},
		{"STOPPED", false},
	}
	for _, tt := range tests {
		if got := ShouldRetry(tt.resp); got != tt.want {
			t.Errorf("ShouldRetry(%q) = %v, want %v", tt.resp, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		buf  string
		want ReplyKind
	}{
		{"", ReplyPending},
		{"41 0C", ReplyPending},
		{"41 0C 0F A0\r\r>", ReplyTerminal},
		{"OK", ReplyTerminal},
		{"NO DATA", ReplyTerminal},
		{"BUS INIT: ", ReplyTerminal},
		{"ERROR", ReplyError},
		{"?\r\r>", ReplyError},
		{"SEARCHING...", ReplySearching},
		{"SEARCHING...\r\n", ReplySearching},
		{"SEARCHING...\r\nUNABLE TO CONNECT", ReplyError},
		{"SEARCHING...\r\nCAN ERROR", ReplyError},
		{"SEARCHING...\r\nSTOPPED", ReplyError},
		{"SEARCHING...\r\n41 00 BE 3F A8 13\r\r>", ReplyTerminal},
		{"SEARCHING...\r\nUNABLE TO CONNECT\r\r>", ReplyError},
		{Timeout, ReplyTimeout},
		{SearchingTimeout, ReplyTimeout},
	}
	for _, tt := range tests {
		if got := Classify(tt.buf); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.buf, got, tt.want)
		}
	}
}

func TestNoVehicle(t *testing.T) {
	if !NoVehicle("SEARCHING...\rUNABLE TO CONNECT") {
		t.Error("expected UNABLE TO CONNECT to mean no vehicle")
	}
	if NoVehicle("12.4V") {
		t.Error("voltage is not a no-vehicle reply")
	}
}
