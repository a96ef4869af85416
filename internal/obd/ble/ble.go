package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"obdrelay/internal/obd"
	"obdrelay/pkg/log"
)

// chunkSize is the payload of a default-MTU ATT write.
const chunkSize = 20

var (
	adapter    = bluetooth.DefaultAdapter
	enableOnce sync.Once
	enableErr  error
)

func enable() error {
	enableOnce.Do(func() { enableErr = adapter.Enable() })
	return enableErr
}

// knownProperties lists the characteristics used by common adapters. The
// host stack does not report properties on every platform, so discovered
// characteristics are matched against this table.
var knownProperties = map[string]Property{
	"0000fff1-0000-1000-8000-00805f9b34fb": PropNotify,
	"0000fff2-0000-1000-8000-00805f9b34fb": PropWrite | PropWriteWithoutResponse,
	"0000ffe1-0000-1000-8000-00805f9b34fb": PropNotify | PropWrite | PropWriteWithoutResponse,
	"00002af0-0000-1000-8000-00805f9b34fb": PropNotify | PropIndicate,
	"00002af1-0000-1000-8000-00805f9b34fb": PropWrite | PropWriteWithoutResponse,
	bluetooth.CharacteristicUUIDUARTTX.String(): PropNotify,
	bluetooth.CharacteristicUUIDUARTRX.String(): PropWrite | PropWriteWithoutResponse,
}

// KnownProperties returns the capability bits recorded for a characteristic UUID.
func KnownProperties(uuid string) Property {
	return knownProperties[strings.ToLower(uuid)]
}

type Config struct {
	Keywords      []string
	RSSIThreshold int16
	ScanTimeout   time.Duration
	Logger        *zap.Logger
}

// Transport is a GATT session with a BLE adapter.
type Transport struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	device   *bluetooth.Device
	addr     string
	name     string
	write    bluetooth.DeviceCharacteristic
	noReply  bool
	frames   chan []byte
	closed   bool
	closeOne sync.Once
	dropOnce sync.Once
}

func New(cfg Config) *Transport {
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords
	}
	if cfg.RSSIThreshold == 0 {
		cfg.RSSIThreshold = DefaultRSSIThreshold
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Named("ble")
	}
	return &Transport{
		cfg:    cfg,
		log:    cfg.Logger,
		frames: make(chan []byte, 64),
	}
}

func (t *Transport) Kind() obd.Kind { return obd.KindBluetooth }

func (t *Transport) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.name == "" {
		return "ble"
	}
	return t.name
}

func (t *Transport) fail(op string, err error) error {
	return &obd.TransportError{Kind: obd.KindBluetooth, Op: op, Err: err}
}

func (t *Transport) Connect(ctx context.Context) error {
	if err := enable(); err != nil {
		return t.fail("enable", err)
	}
	found, err := t.scan(ctx)
	if err != nil {
		return t.fail("scan", err)
	}
	name := found.LocalName()
	t.log.Info("connecting to adapter",
		zap.String("name", name),
		zap.String("addr", found.Address.String()),
		zap.Int16("rssi", found.RSSI))

	device, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return t.fail("connect", err)
	}

	write, notify, err := t.characteristics(device)
	if err != nil {
		device.Disconnect()
		return t.fail("discover", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		device.Disconnect()
		return t.fail("connect", obd.ErrClosed)
	}
	t.device = &device
	t.addr = found.Address.String()
	t.name = name
	t.write = write
	t.noReply = KnownProperties(write.UUID().String())&PropWriteWithoutResponse != 0
	t.mu.Unlock()

	adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if !connected && d.Address.String() == t.addr {
			t.log.Warn("adapter link lost", zap.String("name", name))
			t.drop()
		}
	})

	if err := notify.EnableNotifications(t.push); err != nil {
		t.Close()
		return t.fail("subscribe", err)
	}
	t.log.Info("adapter connected", zap.String("name", name))
	return nil
}

// scan returns the first keyword match, or else the strongest named device
// above the RSSI threshold seen before the scan window closed.
func (t *Transport) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ScanTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		keyword  *bluetooth.ScanResult
		fallback *bluetooth.ScanResult
	)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			m := MatchName(r.LocalName(), r.RSSI, t.cfg.Keywords, t.cfg.RSSIThreshold)
			if m == MatchNone {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch m {
			case MatchKeyword:
				if keyword == nil {
					res := r
					keyword = &res
					a.StopScan()
				}
			case MatchSignal:
				if fallback == nil || r.RSSI > fallback.RSSI {
					res := r
					fallback = &res
				}
			}
		})
	}()

	select {
	case err := <-scanErr:
		if err != nil {
			return bluetooth.ScanResult{}, err
		}
	case <-ctx.Done():
		adapter.StopScan()
		<-scanErr
	}

	mu.Lock()
	defer mu.Unlock()
	if keyword != nil {
		return *keyword, nil
	}
	if fallback != nil {
		t.log.Info("no named adapter seen, using strongest nearby device",
			zap.String("name", fallback.LocalName()))
		return *fallback, nil
	}
	return bluetooth.ScanResult{}, ErrNoDevice
}

func (t *Transport) characteristics(device bluetooth.Device) (write, notify bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return write, notify, err
	}
	var (
		found []bluetooth.DeviceCharacteristic
		props []Characteristic
	)
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			t.log.Debug("characteristic discovery failed",
				zap.String("service", svc.UUID().String()), zap.Error(err))
			continue
		}
		for _, c := range chars {
			uuid := c.UUID().String()
			found = append(found, c)
			props = append(props, Characteristic{UUID: uuid, Props: KnownProperties(uuid)})
		}
	}
	w, n, err := SelectCharacteristics(props)
	if err != nil {
		return write, notify, err
	}
	t.log.Debug("selected characteristics",
		zap.String("write", props[w].UUID), zap.String("notify", props[n].UUID))
	return found[w], found[n], nil
}

func (t *Transport) push(buf []byte) {
	if len(buf) == 0 {
		return
	}
	chunk := make([]byte, len(buf))
	copy(chunk, buf)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.frames <- chunk:
	default:
		t.log.Warn("reply buffer full, dropping notification", zap.Int("bytes", len(chunk)))
	}
}

func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	if t.device == nil || t.closed {
		t.mu.Unlock()
		return t.fail("write", obd.ErrClosed)
	}
	write, noReply := t.write, t.noReply
	t.mu.Unlock()

	for len(frame) > 0 {
		if err := ctx.Err(); err != nil {
			return t.fail("write", err)
		}
		n := min(len(frame), chunkSize)
		var err error
		if noReply {
			_, err = write.WriteWithoutResponse(frame[:n])
		} else {
			_, err = write.Write(frame[:n])
		}
		if err != nil {
			return t.fail("write", err)
		}
		frame = frame[n:]
	}
	return nil
}

func (t *Transport) Frames() <-chan []byte { return t.frames }

// drop marks the link gone and ends Frames.
func (t *Transport) drop() {
	t.dropOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.frames)
		t.mu.Unlock()
	})
}

func (t *Transport) Close() error {
	var err error
	t.closeOne.Do(func() {
		t.mu.Lock()
		device := t.device
		t.device = nil
		t.mu.Unlock()

		t.drop()
		if device != nil {
			if derr := device.Disconnect(); derr != nil {
				err = fmt.Errorf("disconnect %s: %w", t.Name(), derr)
			}
		}
	})
	return err
}
