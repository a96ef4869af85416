package uploader

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"obdrelay/internal/models"
)

const (
	linePrefix = "*OBD"
	lineSuffix = "#"
	// lineFields counts the comma-separated fields before the suffix,
	// the prefix included.
	lineFields = 29
)

// Record is a parsed wire line.
type Record struct {
	Device string
	// Clock is the HHmmss UTC time of the sample.
	Clock  string
	Coord  models.Coordinate
	Sample models.VehicleSample
}

var sanitizer = strings.NewReplacer(",", " ", "#", " ", "\n", " ", "\r", " ")

func f0(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) }
func f1(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
func f6(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// Format renders s as one collector line. Without a fix the coordinates
// are sent as zero.
func Format(s models.VehicleSample, device string, coord models.Coordinate, fix bool) string {
	if !fix {
		coord = models.Coordinate{}
	}
	mil := "0"
	if s.MILOn {
		mil = "1"
	}
	fields := []string{
		linePrefix,
		sanitizer.Replace(device),
		s.CreatedAt.UTC().Format("150405"),
		f0(s.RPM),
		f1(s.Speed),
		f1(s.EngineLoad),
		f0(s.CoolantTemp),
		f0(s.IntakeTemp),
		f1(s.Throttle),
		f1(s.FuelLevel),
		f2(s.Voltage),
		f0(s.AmbientTemp),
		f6(coord.Latitude),
		f6(coord.Longitude),
		strconv.Itoa(int(math.Floor(s.Runtime / 60))),
		f2(s.MAF),
		f1(s.TimingAdvance),
		f1(s.RelativeThrottle),
		f1(s.ShortTrimBank1),
		f1(s.LongTrimBank1),
		f1(s.ShortTrimBank2),
		f1(s.LongTrimBank2),
		sanitizer.Replace(s.OBDStandard),
		strconv.Itoa(s.Protocol),
		strconv.Itoa(s.DTCCount),
		"[" + sanitizer.Replace(s.RawDTC) + "]",
		mil,
		strconv.Itoa(s.PIDsRead),
		strconv.Itoa(s.PIDsTotal),
		lineSuffix,
	}
	return strings.Join(fields, ",")
}

// Parse reads a line produced by Format. Runtime comes back in whole
// minutes, converted to seconds.
func Parse(line string) (Record, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != lineFields+1 {
		return Record{}, fmt.Errorf("want %d fields, got %d", lineFields+1, len(parts))
	}
	if parts[0] != linePrefix || parts[len(parts)-1] != lineSuffix {
		return Record{}, fmt.Errorf("bad framing %q...%q", parts[0], parts[len(parts)-1])
	}

	p := &fieldParser{parts: parts}
	rec := Record{Device: parts[1], Clock: parts[2]}
	if _, err := time.Parse("150405", rec.Clock); err != nil {
		return Record{}, fmt.Errorf("field 2: bad time %q", rec.Clock)
	}
	s := &rec.Sample
	s.RPM = p.num(3)
	s.Speed = p.num(4)
	s.EngineLoad = p.num(5)
	s.CoolantTemp = p.num(6)
	s.IntakeTemp = p.num(7)
	s.Throttle = p.num(8)
	s.FuelLevel = p.num(9)
	s.Voltage = p.num(10)
	s.AmbientTemp = p.num(11)
	rec.Coord.Latitude = p.num(12)
	rec.Coord.Longitude = p.num(13)
	s.Runtime = float64(p.whole(14) * 60)
	s.MAF = p.num(15)
	s.TimingAdvance = p.num(16)
	s.RelativeThrottle = p.num(17)
	s.ShortTrimBank1 = p.num(18)
	s.LongTrimBank1 = p.num(19)
	s.ShortTrimBank2 = p.num(20)
	s.LongTrimBank2 = p.num(21)
	s.OBDStandard = parts[22]
	s.Protocol = p.whole(23)
	s.DTCCount = p.whole(24)
	raw := parts[25]
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return Record{}, fmt.Errorf("field 25: bad raw DTC %q", raw)
	}
	s.RawDTC = raw[1 : len(raw)-1]
	s.MILOn = p.whole(26) == 1
	s.PIDsRead = p.whole(27)
	s.PIDsTotal = p.whole(28)
	if p.err != nil {
		return Record{}, p.err
	}
	return rec, nil
}

// fieldParser keeps the first conversion error.
type fieldParser struct {
	parts []string
	err   error
}

func (p *fieldParser) num(i int) float64 {
	v, err := strconv.ParseFloat(p.parts[i], 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
	return v
}

func (p *fieldParser) whole(i int) int {
	v, err := strconv.Atoi(p.parts[i])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
	return v
}
