package obd

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the physical link to the adapter.
type Kind int

const (
	KindWiFi Kind = iota
	KindBluetooth
)

func (k Kind) String() string {
	switch k {
	case KindWiFi:
		return "wifi"
	case KindBluetooth:
		return "bluetooth"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transport abstracts a byte link to an ELM327-class adapter.
// It handles connecting, sending command frames and delivering raw reply chunks.
type Transport interface {
	Kind() Kind
	Name() string
	// Connect performs a single connection attempt bounded by ctx.
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	// Frames yields reply chunks as they arrive. It is closed when the link
	// drops or Close is called.
	Frames() <-chan []byte
	// Close tears the link down. Calling it more than once is a no-op.
	Close() error
}

// ErrClosed is returned when using a transport whose link is gone.
var ErrClosed = errors.New("transport closed")

// TransportError reports a connect, timeout or write failure on a link.
type TransportError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
