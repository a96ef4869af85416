// Package ble implements the GATT link to Bluetooth Low Energy ELM327 adapters.
package ble

import (
	"errors"
	"strings"
)

// DefaultKeywords are the name fragments of common BLE OBD adapters.
var DefaultKeywords = []string{
	"ELM", "OBD", "V-LINK", "OBDII", "VEEPEAK", "KIWI", "BAFX", "BLUETOOTH", "SPP", "VIECAR",
}

// DefaultRSSIThreshold admits unnamed-brand devices that are clearly nearby.
const DefaultRSSIThreshold int16 = -70

// Match is how well an advertised device fits an OBD adapter.
type Match int

const (
	MatchNone Match = iota
	// MatchSignal is a named device with a strong signal and no keyword.
	MatchSignal
	MatchKeyword
)

// MatchName classifies an advertisement by its local name and RSSI.
func MatchName(name string, rssi int16, keywords []string, threshold int16) Match {
	if name == "" {
		return MatchNone
	}
	upper := strings.ToUpper(name)
	for _, k := range keywords {
		if k != "" && strings.Contains(upper, strings.ToUpper(k)) {
			return MatchKeyword
		}
	}
	if rssi > threshold {
		return MatchSignal
	}
	return MatchNone
}

// Property is a GATT characteristic capability bit.
type Property uint8

const (
	PropWriteWithoutResponse Property = 1 << iota
	PropWrite
	PropNotify
	PropIndicate
)

// Characteristic is a discovered characteristic and what it can do.
type Characteristic struct {
	UUID  string
	Props Property
}

var (
	ErrNoDevice                 = errors.New("no OBD adapter found")
	ErrNoWritableCharacteristic = errors.New("no writable characteristic")
	ErrNoNotifyCharacteristic   = errors.New("no notify or indicate characteristic")
)

// SelectCharacteristics picks the command sink (write-without-response
// preferred, plain write as fallback) and the response source (notify
// preferred over indicate). Both may be the same characteristic.
func SelectCharacteristics(chars []Characteristic) (write, notify int, err error) {
	write = pick(chars, PropWriteWithoutResponse, PropWrite)
	if write < 0 {
		return -1, -1, ErrNoWritableCharacteristic
	}
	notify = pick(chars, PropNotify, PropIndicate)
	if notify < 0 {
		return -1, -1, ErrNoNotifyCharacteristic
	}
	return write, notify, nil
}

func pick(chars []Characteristic, preferred, fallback Property) int {
	idx := -1
	for i, c := range chars {
		if c.Props&preferred != 0 {
			return i
		}
		if idx < 0 && c.Props&fallback != 0 {
			idx = i
		}
	}
	return idx
}
