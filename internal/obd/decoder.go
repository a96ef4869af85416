package obd

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProtocolError reports a reply that could not be decoded for a command.
type ProtocolError struct {
	Command string
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Command, e.Reason)
}

func compact(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '>':
			return -1
		}
		return r
	}, strings.ToUpper(s))
}

// CompactReply strips whitespace and prompts from an adapter reply.
func CompactReply(resp string) string { return compact(resp) }

func splitLines(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '\r' || r == '\n' })
}

// ExtractPID finds the Mode 01 reply for pid in resp and returns its first n
// data bytes. Echoed commands and other noise around the reply are ignored.
func ExtractPID(resp string, pid byte, n int) ([]byte, error) {
	prefix := fmt.Sprintf("41%02X", pid)
	if data, ok := extractAfter(compact(resp), prefix, n); ok {
		return data, nil
	}
	for _, line := range splitLines(resp) {
		if data, ok := extractAfter(compact(line), prefix, n); ok {
			return data, nil
		}
	}
	cmd := mode01(pid)
	if !strings.Contains(compact(resp), prefix) {
		return nil, &ProtocolError{Command: cmd, Reason: fmt.Sprintf("no %s in %q", prefix, resp)}
	}
	return nil, &ProtocolError{Command: cmd, Reason: fmt.Sprintf("want %d data bytes in %q", n, resp)}
}

func extractAfter(buf, prefix string, n int) ([]byte, bool) {
	idx := strings.Index(buf, prefix)
	if idx < 0 {
		return nil, false
	}
	rest := buf[idx+len(prefix):]
	if len(rest) < 2*n {
		return nil, false
	}
	data, err := hex.DecodeString(rest[:2*n])
	if err != nil {
		return nil, false
	}
	return data, true
}

// Decode extracts and converts the value of p from resp.
func Decode(p ParameterSpec, resp string) (float64, error) {
	raw, err := ExtractPID(resp, p.PID, p.Bytes)
	if err != nil {
		return 0, err
	}
	v, err := p.Convert(raw)
	if err != nil {
		return 0, &ProtocolError{Command: p.Command, Reason: err.Error()}
	}
	return v, nil
}

func single(f func(float64) float64) func([]byte) (float64, error) {
	return func(raw []byte) (float64, error) {
		return f(float64(raw[0])), nil
	}
}

func word(f func(float64) float64) func([]byte) (float64, error) {
	return func(raw []byte) (float64, error) {
		return f(float64(uint16(raw[0])<<8 | uint16(raw[1]))), nil
	}
}

func identity(v float64) float64 { return v }

func percent(v float64) float64 { return v * 100 / 255 }

func celsius(v float64) float64 { return v - 40 }

func fuelTrim(v float64) float64 {
	return math.Max(-100, math.Min(100, (v-128)*100/128))
}

// ambient rejects readings outside the range a roadside sensor can report.
func ambient(raw []byte) (float64, error) {
	t := celsius(float64(raw[0]))
	if t < -50 || t > 60 {
		return 0, fmt.Errorf("ambient temperature %.0f°C out of range", t)
	}
	return t, nil
}

// DecodeVoltage parses an ATRV reply such as "12.6V".
func DecodeVoltage(resp string) (float64, error) {
	for _, tok := range strings.Fields(strings.ReplaceAll(resp, ">", " ")) {
		tok = strings.TrimSuffix(strings.ToUpper(tok), "V")
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		if v > 5 && v < 20 {
			return v, nil
		}
	}
	return 0, &ProtocolError{Command: CommandVoltage, Reason: fmt.Sprintf("no plausible voltage in %q", resp)}
}

// DecodeMILStatus reads the MIL bit and stored DTC count from a 0101 reply.
func DecodeMILStatus(resp string) (milOn bool, count int, err error) {
	raw, err := ExtractPID(resp, 0x01, 1)
	if err != nil {
		return false, 0, err
	}
	return raw[0]&0x80 != 0, int(raw[0] & 0x7F), nil
}

// DecodeProtocolNumber parses an ATDPN reply ("6", "A6", "A") into 1..10.
func DecodeProtocolNumber(resp string) (int, error) {
	s := compact(resp)
	if len(s) == 2 && s[0] == 'A' {
		s = s[1:]
	}
	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil || n < 1 || n > 10 {
		return 0, &ProtocolError{Command: CommandProtocolNum, Reason: fmt.Sprintf("bad protocol number %q", resp)}
	}
	return int(n), nil
}
