package location

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"obdrelay/internal/models"
	"obdrelay/pkg/log"
)

// NMEAConfig holds the serial settings of a NMEA 0183 receiver.
type NMEAConfig struct {
	Port   string
	Baud   int
	Logger *zap.Logger
}

// NMEA tracks the position reported by a serial GPS receiver. Only valid
// RMC fixes move the position; GGA sentences update fix quality.
type NMEA struct {
	cfg  NMEAConfig
	log  *zap.Logger
	open func(name string, baud int) (io.ReadCloser, error)

	mu         sync.RWMutex
	coord      models.Coordinate
	valid      bool
	fixQuality int
	satellites int
	updated    time.Time
}

func NewNMEA(cfg NMEAConfig) *NMEA {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Named("gps")
	}
	return &NMEA{cfg: cfg, log: cfg.Logger, open: openPort}
}

func openPort(name string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", name, err)
	}
	return port, nil
}

// Run reads sentences until ctx is done or the port fails.
func (n *NMEA) Run(ctx context.Context) error {
	port, err := n.open(n.cfg.Port, n.cfg.Baud)
	if err != nil {
		return err
	}
	defer port.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-stop:
		}
	}()
	n.log.Info("gps connected", zap.String("port", n.cfg.Port), zap.Int("baud", n.cfg.Baud))

	err = n.consume(port)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (n *NMEA) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		n.Feed(scanner.Text())
	}
	return scanner.Err()
}

// Feed applies one NMEA sentence. Sentences with a bad checksum are ignored.
func (n *NMEA) Feed(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") || !validChecksum(line) {
		return
	}
	parts := split(line)
	if len(parts[0]) < 5 {
		return
	}
	switch parts[0][2:] {
	case "RMC":
		n.parseRMC(parts)
	case "GGA":
		n.parseGGA(parts)
	}
}

func (n *NMEA) parseRMC(parts []string) {
	// RMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,...
	if len(parts) < 7 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if parts[2] != "A" {
		if n.valid {
			n.log.Info("gps fix lost")
		}
		n.valid = false
		return
	}
	lat, okLat := parseCoord(parts[3], parts[4])
	lon, okLon := parseCoord(parts[5], parts[6])
	if !okLat || !okLon {
		return
	}
	if !n.valid {
		n.log.Info("gps fix acquired", zap.Float64("lat", lat), zap.Float64("lon", lon))
	}
	n.coord = models.Coordinate{Latitude: lat, Longitude: lon}
	n.valid = true
	n.updated = time.Now()
}

func (n *NMEA) parseGGA(parts []string) {
	// GGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,...
	if len(parts) < 8 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if fix, err := strconv.Atoi(parts[6]); err == nil {
		n.fixQuality = fix
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		n.satellites = sats
	}
}

func (n *NMEA) Location() (models.Coordinate, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.coord, n.valid
}

// Satellites returns the satellites in use from the last GGA sentence.
func (n *NMEA) Satellites() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.satellites
}

// split strips the leading $ and the checksum suffix.
func split(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	return strings.Split(strings.TrimPrefix(line, "$"), ",")
}

// parseCoord converts NMEA ddmm.mmmm plus hemisphere to decimal degrees.
func parseCoord(raw, dir string) (float64, bool) {
	if raw == "" || dir == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	deg := math.Floor(val / 100)
	result := deg + (val-deg*100)/60
	if dir == "S" || dir == "W" {
		result = -result
	}
	return result, true
}

// validChecksum checks the XOR of the bytes between $ and * against the
// two hex digits after *.
func validChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	var calc byte
	for i := 1; i < idx; i++ {
		calc ^= line[i]
	}
	want, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(want) == calc
}
