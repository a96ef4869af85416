package elm

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"obdrelay/internal/obd"
	"obdrelay/pkg/log"
)

// DefaultRetries bounds retries when the caller has no better figure.
const DefaultRetries = 3

// Timing holds the channel's waits. Zero fields take the defaults for the
// transport kind.
type Timing struct {
	ResponseTimeout   time.Duration
	SearchingCeiling  time.Duration
	SearchPoll        time.Duration
	RetryDelay        time.Duration
	TimeoutRetryDelay time.Duration
}

// DefaultTiming returns the production waits; BLE write+notify round trips
// get a longer response timeout than TCP.
func DefaultTiming(kind obd.Kind) Timing {
	t := Timing{
		ResponseTimeout:   10 * time.Second,
		SearchingCeiling:  30 * time.Second,
		SearchPoll:        time.Second,
		RetryDelay:        5 * time.Second,
		TimeoutRetryDelay: 2 * time.Second,
	}
	if kind == obd.KindBluetooth {
		t.ResponseTimeout = 30 * time.Second
	}
	return t
}

func (t Timing) withDefaults(kind obd.Kind) Timing {
	d := DefaultTiming(kind)
	if t.ResponseTimeout <= 0 {
		t.ResponseTimeout = d.ResponseTimeout
	}
	if t.SearchingCeiling <= 0 {
		t.SearchingCeiling = d.SearchingCeiling
	}
	if t.SearchPoll <= 0 {
		t.SearchPoll = d.SearchPoll
	}
	if t.RetryDelay <= 0 {
		t.RetryDelay = d.RetryDelay
	}
	if t.TimeoutRetryDelay <= 0 {
		t.TimeoutRetryDelay = d.TimeoutRetryDelay
	}
	return t
}

// Channel serializes command/response exchanges on one transport. The
// adapter is half-duplex, so at most one command is ever outstanding.
type Channel struct {
	mu     sync.Mutex
	t      obd.Transport
	timing Timing
	log    *zap.Logger
}

// NewChannel wraps a connected transport.
func NewChannel(t obd.Transport, timing Timing, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = log.Named("channel")
	}
	return &Channel{
		t:      t,
		timing: timing.withDefaults(t.Kind()),
		log:    logger,
	}
}

// Kind returns the kind of the underlying transport.
func (c *Channel) Kind() obd.Kind { return c.t.Kind() }

// Exchange sends cmd and returns the adapter's reply, or the Timeout /
// SearchingTimeout sentinels. Retryable replies are re-sent up to retries
// more times. The error is only set for transport failures and cancellation.
func (c *Channel) Exchange(ctx context.Context, cmd string, retries int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		resp, err := c.roundTrip(ctx, cmd)
		if err != nil {
			return resp, err
		}
		if !ShouldRetry(resp) {
			return resp, nil
		}
		if attempt >= retries {
			c.log.Warn("command still failing, giving up",
				zap.String("command", cmd),
				zap.String("response", resp),
				zap.Int("attempts", attempt+1))
			return resp, nil
		}

		delay := c.timing.RetryDelay
		if resp == Timeout || resp == SearchingTimeout {
			delay = c.timing.TimeoutRetryDelay
		}
		c.log.Warn("retrying command",
			zap.String("command", cmd),
			zap.String("response", resp),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := sleep(ctx, delay); err != nil {
			return resp, err
		}
	}
}

func (c *Channel) roundTrip(ctx context.Context, cmd string) (string, error) {
	c.drain()

	if err := c.t.Send(ctx, []byte(cmd+"\r")); err != nil {
		return "", err
	}
	c.log.Debug("write", zap.String("command", cmd))

	var buf strings.Builder
	deadline := time.NewTimer(c.timing.ResponseTimeout)
	defer deadline.Stop()
	deadlineC := deadline.C

	var (
		poll        <-chan time.Time
		searchStart time.Time
	)
	frames := c.t.Frames()

	for {
		select {
		case <-ctx.Done():
			return clean(buf.String()), ctx.Err()

		case chunk, ok := <-frames:
			if !ok {
				return clean(buf.String()), obd.ErrClosed
			}
			buf.Write(chunk)
			switch Classify(buf.String()) {
			case ReplyTerminal, ReplyError:
				resp := clean(buf.String())
				c.log.Debug("read", zap.String("command", cmd), zap.String("response", resp))
				return resp, nil
			case ReplySearching:
				if poll == nil {
					searchStart = time.Now()
					ticker := time.NewTicker(c.timing.SearchPoll)
					defer ticker.Stop()
					poll = ticker.C
					c.log.Info("adapter searching for protocol", zap.String("command", cmd))
				}
			}

		case <-poll:
			if time.Since(searchStart) >= c.timing.SearchingCeiling {
				c.log.Warn("protocol search timed out",
					zap.String("command", cmd),
					zap.Duration("waited", time.Since(searchStart)))
				return SearchingTimeout, nil
			}

		case <-deadlineC:
			if poll != nil {
				// the search ceiling governs from here on
				deadlineC = nil
				continue
			}
			if resp := clean(buf.String()); resp != "" {
				c.log.Warn("response incomplete at timeout", zap.String("command", cmd), zap.String("partial", resp))
				return resp, nil
			}
			c.log.Warn("no response", zap.String("command", cmd), zap.Duration("timeout", c.timing.ResponseTimeout))
			return Timeout, nil
		}
	}
}

// drain discards bytes left over from a previous exchange, such as a prompt
// that trailed an early keyword match.
func (c *Channel) drain() {
	frames := c.t.Frames()
	for {
		select {
		case chunk, ok := <-frames:
			if !ok {
				return
			}
			c.log.Debug("cleared pending data", zap.Int("bytes", len(chunk)))
		default:
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
