package elm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"obdrelay/internal/obd"
	"obdrelay/pkg/log"
)

const (
	CommandReset           = "ATZ"
	CommandEchoOff         = "ATE0"
	CommandLineFeedsOff    = "ATL0"
	CommandSpacesOff       = "ATS0"
	CommandHeadersOff      = "ATH0"
	CommandSetProtocolAuto = "ATSP0"
	CommandProbe           = "0100"
)

// ErrAdapterNotResponding is returned when the post-init probe fails.
var ErrAdapterNotResponding = errors.New("adapter not responding")

// Exchanger is the part of Channel the initializer needs.
type Exchanger interface {
	Exchange(ctx context.Context, cmd string, retries int) (string, error)
}

// Step is one initialization command and the pause that follows it.
type Step struct {
	Command string
	Settle  time.Duration
}

// Sequence returns the initialization commands. Reset and auto-protocol make
// the adapter search internally and get the long settle.
func Sequence(short, long time.Duration) []Step {
	return []Step{
		{CommandReset, long},
		{CommandEchoOff, short},
		{CommandLineFeedsOff, short},
		{CommandSpacesOff, short},
		{CommandHeadersOff, short},
		{CommandSetProtocolAuto, long},
		{CommandProbe, short},
	}
}

// InitConfig tunes the Initializer.
type InitConfig struct {
	ShortSettle time.Duration
	LongSettle  time.Duration
	Retries     int
	Logger      *zap.Logger
}

// DefaultInitConfig returns the production settle delays.
func DefaultInitConfig() InitConfig {
	return InitConfig{
		ShortSettle: time.Second,
		LongSettle:  15 * time.Second,
		Retries:     DefaultRetries,
	}
}

// Probe is the outcome of the connectivity check after initialization.
type Probe struct {
	Voltage   float64
	NoVehicle bool
}

// Initializer brings an adapter into a known state.
type Initializer struct {
	ch            Exchanger
	steps         []Step
	retries       int
	log           *zap.Logger
	resetFailures atomic.Int64
}

func NewInitializer(ch Exchanger, cfg InitConfig) *Initializer {
	if cfg.Logger == nil {
		cfg.Logger = log.Named("init")
	}
	return &Initializer{
		ch:      ch,
		steps:   Sequence(cfg.ShortSettle, cfg.LongSettle),
		retries: cfg.Retries,
		log:     cfg.Logger,
	}
}

// ResetFailures counts resets that reported failure but were tolerated.
func (i *Initializer) ResetFailures() int64 { return i.resetFailures.Load() }

// Run sends the sequence, then probes battery voltage. Failed steps are
// logged and skipped; only transport errors and a failed probe abort.
func (i *Initializer) Run(ctx context.Context) (Probe, error) {
	for _, step := range i.steps {
		resp, err := i.ch.Exchange(ctx, step.Command, i.retries)
		if err != nil {
			return Probe{}, fmt.Errorf("init %s: %w", step.Command, err)
		}

		switch {
		case step.Command == CommandReset && ShouldRetry(resp):
			n := i.resetFailures.Add(1)
			i.log.Warn("adapter reset reported failure, continuing",
				zap.String("response", resp),
				zap.Int64("reset_failures", n))
		case step.Command == CommandProbe && NoVehicle(resp):
			i.log.Info("adapter answers but no vehicle responded", zap.String("response", resp))
		case ShouldRetry(resp):
			i.log.Warn("init command failed, continuing",
				zap.String("command", step.Command),
				zap.String("response", resp))
		default:
			i.log.Debug("init command ok", zap.String("command", step.Command), zap.String("response", resp))
		}

		if err := sleep(ctx, step.Settle); err != nil {
			return Probe{}, err
		}
	}

	return i.probe(ctx)
}

func (i *Initializer) probe(ctx context.Context) (Probe, error) {
	resp, err := i.ch.Exchange(ctx, obd.CommandVoltage, i.retries)
	if err != nil {
		return Probe{}, fmt.Errorf("probe: %w", err)
	}
	if v, err := obd.DecodeVoltage(resp); err == nil {
		i.log.Info("adapter ready", zap.Float64("voltage", v))
		return Probe{Voltage: v}, nil
	}
	if NoVehicle(resp) {
		i.log.Info("adapter ready, no vehicle", zap.String("response", resp))
		return Probe{NoVehicle: true}, nil
	}
	return Probe{}, fmt.Errorf("%w: %s replied %q", ErrAdapterNotResponding, obd.CommandVoltage, resp)
}
