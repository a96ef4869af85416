package mock

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"obdrelay/internal/obd"
)

// Adapter is a simulated ELM327 used for demo and testing. Unscripted
// commands are answered from a random-walk vehicle; Script overrides
// individual commands.
type Adapter struct {
	mu        sync.Mutex
	kind      obd.Kind
	name      string
	frames    chan []byte
	connected bool
	closed    bool

	connectErr error
	connectHit int
	replyDelay time.Duration
	scripts    map[string][]string
	sent       []string

	// simulated values
	rng     *rand.Rand
	rpm     int
	coolant float64
	dtcs    []uint16
}

// New returns a simulated adapter reachable over the given kind of link.
func New(kind obd.Kind) *Adapter {
	return &Adapter{
		kind:    kind,
		name:    "mock-" + kind.String(),
		frames:  make(chan []byte, 64),
		scripts: make(map[string][]string),
		rng:     rand.New(rand.NewSource(1)),
		rpm:     800,
		coolant: 75.0,
	}
}

// Script queues replies for cmd. Replies are consumed in order and the last
// one repeats. An empty reply means the adapter stays silent.
func (a *Adapter) Script(cmd string, replies ...string) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[cmd] = append(a.scripts[cmd], replies...)
	return a
}

// FailConnect makes Connect return err.
func (a *Adapter) FailConnect(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr = err
	return a
}

// SetReplyDelay delays every reply by d.
func (a *Adapter) SetReplyDelay(d time.Duration) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replyDelay = d
	return a
}

// SetDTCs sets the stored trouble codes reported by Mode 01 PID 01 and Mode 03.
func (a *Adapter) SetDTCs(codes ...uint16) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dtcs = codes
	return a
}

// Sent returns the commands received so far, without terminators.
func (a *Adapter) Sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	copy(out, a.sent)
	return out
}

// ConnectAttempts counts calls to Connect.
func (a *Adapter) ConnectAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectHit
}

func (a *Adapter) Kind() obd.Kind { return a.kind }
func (a *Adapter) Name() string   { return a.name }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connectHit++
	err := a.connectErr
	a.mu.Unlock()

	if err != nil {
		// a failing link holds until the connect deadline, like an unreachable host
		<-ctx.Done()
		return &obd.TransportError{Kind: a.kind, Op: "connect", Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return obd.ErrClosed
	}
	a.connected = true
	return nil
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.connected {
		return &obd.TransportError{Kind: a.kind, Op: "write", Err: obd.ErrClosed}
	}

	cmd := strings.ToUpper(strings.TrimSpace(string(frame)))
	a.sent = append(a.sent, cmd)
	reply := a.reply(cmd)
	if reply == "" {
		return nil
	}

	if a.replyDelay > 0 {
		time.AfterFunc(a.replyDelay, func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.push(reply)
		})
		return nil
	}
	a.push(reply)
	return nil
}

// push delivers reply in two chunks so callers exercise accumulation.
// Caller holds mu.
func (a *Adapter) push(reply string) {
	if a.closed {
		return
	}
	half := len(reply) / 2
	for _, chunk := range []string{reply[:half], reply[half:]} {
		if chunk == "" {
			continue
		}
		select {
		case a.frames <- []byte(chunk):
		default:
		}
	}
}

func (a *Adapter) Frames() <-chan []byte { return a.frames }

// Drop simulates the link going away.
func (a *Adapter) Drop() { _ = a.Close() }

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	close(a.frames)
	return nil
}

// reply returns the adapter output for cmd. Caller holds mu.
func (a *Adapter) reply(cmd string) string {
	if queue, ok := a.scripts[cmd]; ok && len(queue) > 0 {
		r := queue[0]
		if len(queue) > 1 {
			a.scripts[cmd] = queue[1:]
		}
		return r
	}
	return a.simulate(cmd) + "\r\r>"
}

func (a *Adapter) simulate(cmd string) string {
	switch {
	case cmd == "ATZ":
		return "ELM327 v1.5"
	case cmd == "ATRV":
		return "12.6V"
	case cmd == "ATDPN":
		return "A6"
	case strings.HasPrefix(cmd, "AT"):
		return "OK"
	case cmd == "03":
		var sb strings.Builder
		sb.WriteString("43")
		for _, c := range a.dtcs {
			fmt.Fprintf(&sb, "%04X", c)
		}
		return sb.String()
	case cmd == "04":
		a.dtcs = nil
		return "44"
	case cmd == "0100":
		return "4100BE3FA813"
	case cmd == "0101":
		status := byte(len(a.dtcs) & 0x7F)
		if len(a.dtcs) > 0 {
			status |= 0x80
		}
		return fmt.Sprintf("4101%02X07E500", status)
	case len(cmd) == 4 && strings.HasPrefix(cmd, "01"):
		return a.pid(cmd[2:])
	}
	return "?"
}

// pid answers a Mode 01 query. RPM and coolant random-walk on every read.
func (a *Adapter) pid(code string) string {
	var data string
	switch code {
	case "0C":
		a.rpm += a.rng.Intn(201) - 100
		if a.rpm < 600 {
			a.rpm = 600
		}
		if a.rpm > 4000 {
			a.rpm = 4000
		}
		data = fmt.Sprintf("%04X", a.rpm*4)
	case "05":
		a.coolant += float64(a.rng.Intn(21)-10) * 0.1
		if a.coolant < 60 {
			a.coolant = 60
		}
		if a.coolant > 110 {
			a.coolant = 110
		}
		data = fmt.Sprintf("%02X", int(a.coolant)+40)
	case "0D":
		data = "32"
	case "04", "11", "45":
		data = "40"
	case "0F":
		data = "46"
	case "46":
		data = "3C"
	case "10":
		data = "0190"
	case "2F":
		data = "B4"
	case "06", "07", "08", "09":
		data = "82"
	case "0A":
		data = "64"
	case "0E":
		data = "90"
	case "1F":
		data = "012C"
	case "5E":
		data = "00C8"
	case "1C":
		data = "06"
	default:
		return "NO DATA"
	}
	return "41" + code + data
}
