package models

import "fmt"

// Status is the coarse connectivity state shown to presenters.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnectedWiFi
	StatusConnectedBluetooth
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnectedWiFi:
		return "connected (wifi)"
	case StatusConnectedBluetooth:
		return "connected (bluetooth)"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ConnectionState is a Status plus the reason for failures and drops.
type ConnectionState struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Connected reports whether an adapter link is up.
func (c ConnectionState) Connected() bool {
	return c.Status == StatusConnectedWiFi || c.Status == StatusConnectedBluetooth
}

func (c ConnectionState) String() string {
	if c.Reason == "" {
		return c.Status.String()
	}
	return fmt.Sprintf("%s: %s", c.Status, c.Reason)
}

func Disconnected(reason string) ConnectionState {
	return ConnectionState{Status: StatusDisconnected, Reason: reason}
}

func Failed(reason string) ConnectionState {
	return ConnectionState{Status: StatusFailed, Reason: reason}
}
