// Package wifi implements the TCP link to WiFi ELM327 adapters.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"obdrelay/internal/obd"
	"obdrelay/pkg/log"
)

// Config holds the adapter endpoint and connect timeouts.
type Config struct {
	Host string
	Port int
	// Timeout bounds the whole connect; DialTimeout bounds the TCP handshake.
	Timeout     time.Duration
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// Transport is a plain TCP connection to the adapter.
type Transport struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	frames chan []byte
	done   chan struct{}

	closeOnce  sync.Once
	framesOnce sync.Once
}

func New(cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Named("wifi")
	}
	return &Transport{
		cfg:    cfg,
		log:    cfg.Logger,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (t *Transport) Kind() obd.Kind { return obd.KindWiFi }

func (t *Transport) Name() string { return t.addr() }

func (t *Transport) addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

func (t *Transport) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	t.log.Info("connecting to adapter", zap.String("addr", t.addr()))
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return &obd.TransportError{Kind: obd.KindWiFi, Op: "connect", Err: err}
	}

	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		conn.Close()
		return &obd.TransportError{Kind: obd.KindWiFi, Op: "connect", Err: obd.ErrClosed}
	default:
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	t.log.Info("adapter connected", zap.String("addr", t.addr()))
	return nil
}

func (t *Transport) readLoop(conn net.Conn) {
	defer t.closeFrames()
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.frames <- chunk:
			case <-t.done:
				return
			}
		}
		if err != nil {
			select {
			case <-t.done:
			default:
				t.log.Warn("adapter link lost", zap.Error(err))
			}
			return
		}
	}
}

func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &obd.TransportError{Kind: obd.KindWiFi, Op: "write", Err: obd.ErrClosed}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return &obd.TransportError{Kind: obd.KindWiFi, Op: "write", Err: err}
	}
	if _, err := conn.Write(frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			err = obd.ErrClosed
		}
		return &obd.TransportError{Kind: obd.KindWiFi, Op: "write", Err: err}
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
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()

		if conn == nil {
			t.closeFrames()
			return
		}
		if cerr := conn.Close(); cerr != nil {
			err = fmt.Errorf("close %s: %w", t.addr(), cerr)
		}
	})
	return err
}
