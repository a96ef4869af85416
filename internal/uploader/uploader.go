// Package uploader ships samples to the collector as single text lines over
// short-lived TCP connections.
package uploader

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"obdrelay/internal/location"
	"obdrelay/internal/models"
	"obdrelay/internal/presenter"
	"obdrelay/pkg/log"
)

// UploadError reports a sample that could not be delivered in the allowed
// number of attempts.
type UploadError struct {
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

type Config struct {
	Host       string
	Port       int
	DeviceName string

	Attempts   int
	RetryDelay time.Duration
	// Timeout bounds each attempt, connect and write included.
	Timeout time.Duration
	// Queue is the number of samples kept while an upload is in flight.
	// The oldest is dropped when it overflows.
	Queue int

	Location  location.Provider
	Presenter presenter.Presenter
	Logger    *zap.Logger
	Now       func() time.Time
}

// Uploader delivers samples on its own goroutine so that collection never
// waits on the network.
type Uploader struct {
	cfg   Config
	log   *zap.Logger
	queue chan models.VehicleSample
	dial  func(ctx context.Context, network, addr string) (net.Conn, error)

	mu      sync.Mutex
	last    models.UploadResult
	dropped int
}

func New(cfg Config) *Uploader {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 16
	}
	if cfg.Location == nil {
		cfg.Location = location.None{}
	}
	if cfg.Presenter == nil {
		cfg.Presenter = presenter.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Named("uploader")
	}
	return &Uploader{
		cfg:   cfg,
		log:   cfg.Logger,
		queue: make(chan models.VehicleSample, cfg.Queue),
		dial:  (&net.Dialer{}).DialContext,
	}
}

func (u *Uploader) addr() string {
	return net.JoinHostPort(u.cfg.Host, strconv.Itoa(u.cfg.Port))
}

// Enqueue hands a sample to the worker without blocking.
func (u *Uploader) Enqueue(s models.VehicleSample) {
	for {
		select {
		case u.queue <- s:
			return
		default:
		}
		select {
		case old := <-u.queue:
			u.mu.Lock()
			u.dropped++
			u.mu.Unlock()
			u.log.Warn("upload queue full, dropping oldest sample", zap.Int("cycle", old.Cycle))
		default:
		}
	}
}

// Dropped counts samples discarded because the queue overflowed.
func (u *Uploader) Dropped() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}

// Last returns the outcome of the most recent upload.
func (u *Uploader) Last() models.UploadResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

// Run uploads queued samples until ctx is done.
func (u *Uploader) Run(ctx context.Context) {
	u.log.Info("uploader started", zap.String("collector", u.addr()))
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-u.queue:
			u.Upload(ctx, s)
		}
	}
}

// Upload formats s and delivers it, retrying on failure. The outcome is
// reported to the presenter and returned; failures are never raised.
func (u *Uploader) Upload(ctx context.Context, s models.VehicleSample) models.UploadResult {
	coord, fix := u.cfg.Location.Location()
	line := Format(s, u.cfg.DeviceName, coord, fix)

	var err error
	attempt := 1
	for ; attempt <= u.cfg.Attempts; attempt++ {
		if err = u.send(ctx, line); err == nil {
			break
		}
		u.log.Warn("upload attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("of", u.cfg.Attempts),
			zap.Error(err))
		if attempt == u.cfg.Attempts || ctx.Err() != nil {
			break
		}
		if serr := sleep(ctx, u.cfg.RetryDelay); serr != nil {
			break
		}
	}

	res := models.UploadResult{At: u.cfg.Now(), Attempts: min(attempt, u.cfg.Attempts)}
	if err == nil {
		res.OK = true
		u.log.Info("sample uploaded",
			zap.Int("cycle", s.Cycle),
			zap.Int("attempts", res.Attempts),
			zap.Bool("gps", fix))
	} else {
		uerr := &UploadError{Attempts: res.Attempts, Err: err}
		res.Err = uerr.Error()
		u.log.Error("sample not uploaded", zap.Int("cycle", s.Cycle), zap.Error(uerr))
	}

	u.mu.Lock()
	u.last = res
	u.mu.Unlock()
	u.cfg.Presenter.UploadFinished(res)
	return res
}

// send opens a fresh connection, writes the line and closes it.
func (u *Uploader) send(ctx context.Context, line string) error {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	conn, err := u.dial(ctx, "tcp", u.addr())
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return err
	}
	return conn.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
