// Package serial implements the link to ELM327 adapters exposed as a serial
// device, such as classic Bluetooth SPP bound to /dev/rfcomm0 or USB cables.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"obdrelay/internal/obd"
	"obdrelay/pkg/log"
)

// Baud rates tried after the configured one.
var fallbackBauds = []int{38400, 9600, 115200, 230400}

// DefaultPort returns the usual adapter device for the platform.
func DefaultPort() string {
	switch runtime.GOOS {
	case "windows":
		return "COM3"
	case "darwin":
		return "/dev/tty.OBDII-SPPDev"
	}
	return "/dev/rfcomm0"
}

// Config holds the serial device settings.
type Config struct {
	Port   string
	Baud   int
	Logger *zap.Logger
}

// Transport talks to the adapter through a serial port.
type Transport struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	port   io.ReadWriteCloser
	baud   int
	frames chan []byte
	done   chan struct{}

	closeOnce  sync.Once
	framesOnce sync.Once

	// open is swapped in tests
	open func(name string, baud int) (io.ReadWriteCloser, error)
}

func New(cfg Config) *Transport {
	if cfg.Port == "" {
		cfg.Port = DefaultPort()
	}
	if cfg.Baud == 0 {
		cfg.Baud = 38400
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Named("serial")
	}
	return &Transport{
		cfg:    cfg,
		log:    cfg.Logger,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
		open:   openPort,
	}
}

func openPort(name string, baud int) (io.ReadWriteCloser, error) {
	cfg := &serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Flush(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Kind reports Bluetooth: serial adapters in the field are SPP devices.
func (t *Transport) Kind() obd.Kind { return obd.KindBluetooth }

func (t *Transport) Name() string { return t.cfg.Port }

// Baud returns the rate the adapter answered at, 0 before Connect.
func (t *Transport) Baud() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baud
}

// Connect opens the port, trying the configured baud rate first and then
// the common ELM327 rates until the adapter identifies itself.
func (t *Transport) Connect(ctx context.Context) error {
	bauds := []int{t.cfg.Baud}
	for _, b := range fallbackBauds {
		if b != t.cfg.Baud {
			bauds = append(bauds, b)
		}
	}

	var lastErr error
	for _, baud := range bauds {
		if err := ctx.Err(); err != nil {
			return &obd.TransportError{Kind: obd.KindBluetooth, Op: "connect", Err: err}
		}
		t.log.Info("attempting baud rate", zap.String("port", t.cfg.Port), zap.Int("baud", baud))

		p, err := t.open(t.cfg.Port, baud)
		if err != nil {
			lastErr = err
			t.log.Warn("failed to open port", zap.Int("baud", baud), zap.Error(err))
			// an unopenable device does not get better at another rate
			break
		}
		if err := identify(ctx, p); err != nil {
			lastErr = err
			t.log.Warn("adapter silent at baud rate", zap.Int("baud", baud), zap.Error(err))
			p.Close()
			continue
		}

		t.mu.Lock()
		t.port = p
		t.baud = baud
		t.mu.Unlock()
		go t.readLoop(p)
		t.log.Info("connected successfully", zap.String("port", t.cfg.Port), zap.Int("baud", baud))
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no baud rate answered")
	}
	return &obd.TransportError{Kind: obd.KindBluetooth, Op: "connect", Err: lastErr}
}

// identify sends ATI and waits briefly for an ELM banner or prompt.
func identify(ctx context.Context, p io.ReadWriter) error {
	if _, err := p.Write([]byte("ATI\r")); err != nil {
		return err
	}
	deadline := time.Now().Add(time.Second)
	var sb strings.Builder
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			resp := sb.String()
			if strings.Contains(resp, "ELM") || strings.Contains(resp, ">") {
				return nil
			}
		}
		if err != nil && err != io.EOF {
			return err
		}
	}
	return fmt.Errorf("no ELM327 response detected in: %q", sb.String())
}

func (t *Transport) readLoop(p io.Reader) {
	defer t.closeFrames()
	buf := make([]byte, 256)
	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := p.Read(buf)
		if n > 0 {
			chunk := make([]byte, 0, n)
			for _, b := range buf[:n] {
				// drop NULs and other line noise, keep CR/LF
				if b >= 32 && b <= 126 || b == '\r' || b == '\n' {
					chunk = append(chunk, b)
				}
			}
			select {
			case t.frames <- chunk:
			case <-t.done:
				return
			}
		}
		if err != nil && err != io.EOF {
			select {
			case <-t.done:
			default:
				t.log.Warn("serial read failed", zap.Error(err))
			}
			return
		}
	}
}

func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	p := t.port
	t.mu.Unlock()
	if p == nil {
		return &obd.TransportError{Kind: obd.KindBluetooth, Op: "write", Err: obd.ErrClosed}
	}
	n, err := p.Write(frame)
	if err != nil {
		return &obd.TransportError{Kind: obd.KindBluetooth, Op: "write", Err: err}
	}
	if n != len(frame) {
		return &obd.TransportError{Kind: obd.KindBluetooth, Op: "write", Err: fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))}
	}
	return nil
}

func (t *Transport) Frames() <-chan []byte { return t.frames }

func (t *Transport) closeFrames() {
	t.framesOnce.Do(func() { close(t.frames) })
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		close(t.done)
		p := t.port
		t.port = nil
		t.mu.Unlock()

		if p == nil {
			t.closeFrames()
			return
		}
		err = p.Close()
	})
	return err
}
