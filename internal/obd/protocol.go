package obd

// protocolNames maps ATDPN protocol numbers to their names.
var protocolNames = map[int]string{
	1:  "SAE J1850 PWM (41.6 kbaud)",
	2:  "SAE J1850 VPW (10.4 kbaud)",
	3:  "ISO 9141-2 (5 baud init)",
	4:  "ISO 14230-4 KWP (5 baud init)",
	5:  "ISO 14230-4 KWP (fast init)",
	6:  "ISO 15765-4 CAN (11 bit ID, 500 kbaud)",
	7:  "ISO 15765-4 CAN (29 bit ID, 500 kbaud)",
	8:  "ISO 15765-4 CAN (11 bit ID, 250 kbaud)",
	9:  "ISO 15765-4 CAN (29 bit ID, 250 kbaud)",
	10: "SAE J1939 CAN (29 bit ID, 250 kbaud)",
}

// ProtocolName returns the human-readable protocol name.
func ProtocolName(n int) string {
	if name, ok := protocolNames[n]; ok {
		return name
	}
	return "Unknown"
}

var obdStandards = [...]string{
	1:  "OBD-II",
	2:  "OBD",
	3:  "OBD/OBD-II",
	4:  "OBD-I",
	5:  "NOT OBD",
	6:  "EOBD",
	7:  "EOBD/OBD-II",
	8:  "EOBD/OBD",
	9:  "EOBD/OBD/OBD-II",
	10: "JOBD",
	11: "JOBD/OBD-II",
	12: "JOBD/EOBD",
	13: "JOBD/EOBD/OBD-II",
}

// OBDStandardLabel maps a PID 1C value to the standard the vehicle conforms to.
func OBDStandardLabel(v int) string {
	if v < 1 || v >= len(obdStandards) {
		return "UNKNOWN"
	}
	return obdStandards[v]
}
