package dtc

import (
	"bytes"
	"testing"

	"obdrelay/internal/models"
)

func TestPrintCodes(t *testing.T) {
	var buf bytes.Buffer
	printCodes(&buf, true, []models.DTCEntry{{Code: "P0133", Description: "O2 Sensor Circuit Slow Response"}})
	want := "MIL: on\nCurrent DTC Error Codes:\n- P0133: O2 Sensor Circuit Slow Response\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	printCodes(&buf, false, nil)
	if want := "MIL: off\nCurrent DTC Error Codes:\nNo error codes.\n"; buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
