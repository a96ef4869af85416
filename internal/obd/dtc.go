package obd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"obdrelay/internal/models"
)

var dtcLetters = [4]byte{'P', 'C', 'B', 'U'}

// FormatDTC renders a 16-bit trouble code per SAE J2012: the top two bits
// select the system letter, the remaining 14 bits are printed as hex.
func FormatDTC(code uint16) string {
	return fmt.Sprintf("%c%04X", dtcLetters[code>>14], code&0x3FFF)
}

// DecodeDTCs parses a Mode 03 reply ("43" followed by 2-byte codes) into
// trouble codes. All-zero codes are padding and are skipped.
func DecodeDTCs(resp string) ([]models.DTCEntry, error) {
	var payloads []string
	for _, line := range splitLines(resp) {
		if c := compact(line); strings.HasPrefix(c, "43") {
			payloads = append(payloads, c[2:])
		}
	}
	if len(payloads) == 0 {
		c := compact(resp)
		idx := strings.Index(c, "43")
		if idx < 0 {
			return nil, &ProtocolError{Command: CommandStoredDTCs, Reason: fmt.Sprintf("no 43 in %q", resp)}
		}
		payloads = append(payloads, c[idx+2:])
	}

	var dtcs []models.DTCEntry
	for _, p := range payloads {
		for i := 0; i+4 <= len(p); i += 4 {
			b, err := hex.DecodeString(p[i : i+4])
			if err != nil {
				return dtcs, &ProtocolError{Command: CommandStoredDTCs, Reason: err.Error()}
			}
			code := uint16(b[0])<<8 | uint16(b[1])
			if code == 0 {
				continue
			}
			name := FormatDTC(code)
			dtcs = append(dtcs, models.DTCEntry{Code: name, Description: DTCDescription(name)})
		}
	}
	return dtcs, nil
}

// DTCDescription returns a description for common DTCs.
func DTCDescription(code string) string {
	if desc, ok := dtcDescriptions[code]; ok {
		return desc
	}
	if strings.HasPrefix(code, "C1A") || strings.HasPrefix(code, "C2") {
		return "TPMS/Tire Pressure Related Code"
	}
	return "Unknown DTC"
}

var dtcDescriptions = map[string]string{
	"P0101": "Mass Air Flow Circuit Range/Performance",
	"P0102": "Mass Air Flow Circuit Low Input",
	"P0103": "Mass Air Flow Circuit High Input",
	"P0133": "O2 Sensor Circuit Slow Response (Bank 1 Sensor 1)",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0175": "System Too Rich (Bank 2)",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0401": "Exhaust Gas Recirculation Flow Insufficient",
	"P0402": "Exhaust Gas Recirculation Flow Excessive",
	"P0420": "Catalyst System Efficiency Below Threshold",
	"P0440": "Evaporative Emission Control System Malfunction",
	"P0442": "Evaporative Emission Control System Leak Detected (Small)",
	"P0455": "Evaporative Emission Control System Leak Detected (Large)",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0505": "Idle Control System Malfunction",
	"P0506": "Idle Control System RPM Lower Than Expected",
	"P0507": "Idle Control System RPM Higher Than Expected",
	"C1A00": "TPMS Control Module Malfunction",
	"C2100": "Tire Pressure Too Low - Left Front",
	"B1000": "Body Control Module Malfunction",
	"B1600": "Ignition Switch Malfunction",
	"U0001": "High Speed CAN Communication Bus",
	"U0100": "Lost Communication With ECM/PCM",
	"U0101": "Lost Communication With TCM",
	"U0121": "Lost Communication With ABS Module",
	"U0140": "Lost Communication With Body Control Module",
}
