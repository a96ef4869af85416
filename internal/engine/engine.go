// Package engine owns the adapter session: transport fallback, adapter
// initialization, the periodic collection cycle and the connection state
// shown to presenters.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"obdrelay/internal/elm"
	"obdrelay/internal/models"
	"obdrelay/internal/obd"
	"obdrelay/internal/presenter"
	"obdrelay/pkg/log"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNoTransport      = errors.New("no transport could connect")
	// ErrPartialData marks a cycle in which no parameter decoded.
	ErrPartialData = errors.New("cycle produced no data")
	// ErrClearRejected is returned when the adapter does not confirm Mode 04.
	ErrClearRejected = errors.New("clear codes rejected")
)

// Factory builds a fresh transport for one connection attempt.
type Factory func() obd.Transport

// Sink accepts valid samples for upload. Enqueue must not block.
type Sink interface {
	Enqueue(sample models.VehicleSample)
}

type Config struct {
	// Transports are tried in order on Connect; the first to connect wins.
	Transports []Factory

	// AttemptTimeout bounds each transport's connect attempt when set.
	// Transports also enforce their own connect timeouts.
	AttemptTimeout time.Duration

	Timing elm.Timing
	Init   elm.InitConfig

	// Interval is the collection period and Spacing separates parameter
	// queries within a sweep. Retries bounds extra attempts per query.
	Interval time.Duration
	Spacing  time.Duration
	Retries  int

	// ManualPolling skips the periodic driver; the session only initializes
	// the adapter and then serves on-demand commands.
	ManualPolling bool

	Presenter presenter.Presenter
	Uploads   Sink
	Logger    *zap.Logger
	Now       func() time.Time
}

// DefaultConfig returns production timings with no transports configured.
func DefaultConfig() Config {
	return Config{
		Init:     elm.DefaultInitConfig(),
		Interval: 30 * time.Second,
		Spacing:  500 * time.Millisecond,
		Retries:  1,
	}
}

type session struct {
	transport obd.Transport
	ch        elm.Exchanger
	cancel    context.CancelFunc
	done      chan struct{}

	ready    chan struct{}
	readyErr error
}

// Engine is the single owner of the adapter connection and the current sample.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	state      models.ConnectionState
	sample     models.VehicleSample
	cycle      int
	forceDTC   bool
	session    *session
	connecting *pending

	// bumped by manual commands so a running cycle does not overwrite them
	dtcRev   int
	protoRev int
}

// pending is a Connect in progress. Disconnect cancels it.
type pending struct {
	cancel context.CancelFunc
}

func New(cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = 500 * time.Millisecond
	}
	if cfg.Presenter == nil {
		cfg.Presenter = presenter.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Named("engine")
	}
	return &Engine{
		cfg:    cfg,
		log:    cfg.Logger,
		state:  models.Disconnected(""),
		sample: models.NewSample(cfg.Now()),
	}
}

// State returns the current connection state.
func (e *Engine) State() models.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Sample returns a copy of the last completed sample.
func (e *Engine) Sample() models.VehicleSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sample.Clone()
}

// Cycle returns the number of collection cycles started in this process.
func (e *Engine) Cycle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle
}

func (e *Engine) setState(state models.ConnectionState) {
	e.mu.Lock()
	prev, changed := e.transition(state)
	e.mu.Unlock()
	if changed {
		e.announce(prev, state)
	}
}

// transition swaps the state. Caller holds mu.
func (e *Engine) transition(state models.ConnectionState) (models.ConnectionState, bool) {
	prev := e.state
	if prev == state {
		return prev, false
	}
	e.state = state
	return prev, true
}

func (e *Engine) announce(prev, state models.ConnectionState) {
	e.log.Info("connection state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", state))
	e.cfg.Presenter.ConnectionChanged(state)
}

func connectedState(kind obd.Kind) models.ConnectionState {
	if kind == obd.KindWiFi {
		return models.ConnectionState{Status: models.StatusConnectedWiFi}
	}
	return models.ConnectionState{Status: models.StatusConnectedBluetooth}
}

// Connect tries each transport in order. A failed transport falls through
// to the next one; only when all fail is the Failed state surfaced. On
// success the adapter is initialized and polled in the background.
// Disconnect cancels a Connect in progress, which then returns
// context.Canceled.
func (e *Engine) Connect(ctx context.Context) error {
	if len(e.cfg.Transports) == 0 {
		e.setState(models.Failed("no transports configured"))
		return ErrNoTransport
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := &pending{cancel: cancel}

	e.mu.Lock()
	if e.session != nil || e.connecting != nil {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.connecting = p
	prev, changed := e.transition(models.ConnectionState{Status: models.StatusConnecting})
	e.mu.Unlock()
	if changed {
		e.announce(prev, models.ConnectionState{Status: models.StatusConnecting})
	}

	var reasons []string
	for _, factory := range e.cfg.Transports {
		t := factory()
		e.log.Info("trying transport", zap.Stringer("kind", t.Kind()), zap.String("name", t.Name()))

		if err := e.attempt(ctx, t); err != nil {
			t.Close()
			reasons = append(reasons, err.Error())
			e.log.Warn("transport failed", zap.Stringer("kind", t.Kind()), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		return e.start(p, t)
	}

	reason := strings.Join(reasons, "; ")
	failed := models.Failed(reason)
	e.mu.Lock()
	if e.connecting != p {
		e.mu.Unlock()
		return context.Canceled
	}
	e.connecting = nil
	prev, changed = e.transition(failed)
	e.mu.Unlock()
	if changed {
		e.announce(prev, failed)
	}
	return fmt.Errorf("%w: %s", ErrNoTransport, reason)
}

func (e *Engine) attempt(ctx context.Context, t obd.Transport) error {
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	return t.Connect(ctx)
}

// start installs the session for a connected transport, unless Disconnect
// cancelled the attempt in the meantime.
func (e *Engine) start(p *pending, t obd.Transport) error {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		transport: t,
		ch:        elm.NewChannel(t, e.cfg.Timing, log.Named("channel")),
		cancel:    cancel,
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}
	state := connectedState(t.Kind())

	e.mu.Lock()
	if e.connecting != p {
		e.mu.Unlock()
		cancel()
		t.Close()
		e.log.Info("connect cancelled, dropping transport", zap.Stringer("kind", t.Kind()))
		return context.Canceled
	}
	e.connecting = nil
	e.session = s
	prev, changed := e.transition(state)
	e.mu.Unlock()

	if changed {
		e.announce(prev, state)
	}
	go e.run(ctx, s)
	return nil
}

// WaitReady blocks until the adapter of the current session has been
// initialized, returning the initialization error if it failed.
func (e *Engine) WaitReady(ctx context.Context) error {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ready:
		return s.readyErr
	}
}

func (e *Engine) run(ctx context.Context, s *session) {
	defer close(s.done)

	initCfg := e.cfg.Init
	if initCfg.Logger == nil {
		initCfg.Logger = log.Named("init")
	}
	probe, err := elm.NewInitializer(s.ch, initCfg).Run(ctx)
	s.readyErr = err
	close(s.ready)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Error("adapter initialization failed", zap.Error(err))
		state := models.Disconnected(err.Error())
		if errors.Is(err, elm.ErrAdapterNotResponding) {
			state = models.Failed(err.Error())
		}
		e.end(s, state)
		return
	}

	if probe.NoVehicle {
		e.log.Info("adapter ready without vehicle")
	} else {
		e.mu.Lock()
		e.sample.Voltage = probe.Voltage
		e.mu.Unlock()
	}

	if e.cfg.ManualPolling {
		<-ctx.Done()
		return
	}

	if err := e.drive(ctx, s); err != nil && ctx.Err() == nil {
		e.log.Warn("adapter link lost", zap.Error(err))
		e.end(s, models.Disconnected(err.Error()))
	}
}

// drive runs the first cycle immediately and then one per tick. A tick that
// fires while a cycle is running is dropped, so cycles never overlap.
func (e *Engine) drive(ctx context.Context, s *session) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.runCycle(ctx, s.ch); err != nil {
			return err
		}

		select {
		case <-ticker.C:
			e.log.Debug("dropped tick that fired during the cycle")
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// end tears a session down after a failure observed by the session itself.
// It does nothing if the session was already replaced or disconnected.
func (e *Engine) end(s *session, state models.ConnectionState) {
	e.mu.Lock()
	if e.session != s {
		e.mu.Unlock()
		return
	}
	e.session = nil
	e.mu.Unlock()

	s.cancel()
	s.transport.Close()
	e.setState(state)
}

// Disconnect cancels a Connect in progress or the session, closes the
// transport and stops polling. The state is Disconnected when it returns.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	s := e.session
	e.session = nil
	p := e.connecting
	e.connecting = nil
	e.mu.Unlock()

	if p != nil {
		p.cancel()
	}
	if s != nil {
		s.cancel()
		if err := s.transport.Close(); err != nil {
			e.log.Warn("closing transport", zap.Error(err))
		}
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			e.log.Warn("session did not stop in time")
		}
	}
	e.setState(models.Disconnected("disconnected"))
}

func (e *Engine) channel() (elm.Exchanger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrNotConnected
	}
	return e.session.ch, nil
}

// ClearTroubleCodes sends Mode 04. On confirmation the MIL and stored codes
// are reset and the next cycle re-reads them.
func (e *Engine) ClearTroubleCodes(ctx context.Context) error {
	ch, err := e.channel()
	if err != nil {
		return err
	}
	resp, err := ch.Exchange(ctx, obd.CommandClearDTCs, 0)
	if err != nil {
		return err
	}
	c := obd.CompactReply(resp)
	if !strings.Contains(c, "44") && !strings.Contains(c, "OK") {
		e.log.Warn("clear codes rejected", zap.String("response", resp))
		return fmt.Errorf("%w: adapter replied %q", ErrClearRejected, resp)
	}

	e.mu.Lock()
	e.sample.MILOn = false
	e.sample.DTCCount = 0
	e.sample.DTCs = nil
	e.sample.RawDTC = ""
	e.forceDTC = true
	e.dtcRev++
	sample := e.sample.Clone()
	e.mu.Unlock()

	e.log.Info("trouble codes cleared")
	e.cfg.Presenter.SampleUpdated(sample)
	return nil
}

// DetectProtocol asks the adapter which protocol it settled on.
func (e *Engine) DetectProtocol(ctx context.Context) (int, string, error) {
	ch, err := e.channel()
	if err != nil {
		return 0, "", err
	}
	resp, err := ch.Exchange(ctx, obd.CommandProtocolNum, e.cfg.Retries)
	if err != nil {
		return 0, "", err
	}
	n, err := obd.DecodeProtocolNumber(resp)
	if err != nil {
		e.log.Warn("protocol detection failed", zap.Error(err))
		return 0, "", err
	}
	name := obd.ProtocolName(n)

	e.mu.Lock()
	e.sample.Protocol = n
	e.sample.ProtocolName = name
	e.protoRev++
	sample := e.sample.Clone()
	e.mu.Unlock()

	e.log.Info("protocol detected", zap.Int("protocol", n), zap.String("name", name))
	e.cfg.Presenter.SampleUpdated(sample)
	return n, name, nil
}

// ReadTroubleCodes reads the MIL status and, when codes are stored, the codes.
func (e *Engine) ReadTroubleCodes(ctx context.Context) (milOn bool, codes []models.DTCEntry, err error) {
	ch, err := e.channel()
	if err != nil {
		return false, nil, err
	}
	sample := e.Sample()
	if err := e.checkDTCs(ctx, ch, &sample); err != nil {
		return false, nil, err
	}

	e.mu.Lock()
	e.sample.MILOn = sample.MILOn
	e.sample.DTCCount = sample.DTCCount
	e.sample.DTCs = sample.DTCs
	e.sample.RawDTC = sample.RawDTC
	e.dtcRev++
	e.mu.Unlock()
	return sample.MILOn, sample.DTCs, nil
}
