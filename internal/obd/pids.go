package obd

import (
	"fmt"

	"obdrelay/internal/models"
)

// ParameterSpec describes one Mode 01 parameter polled by the collection cycle.
type ParameterSpec struct {
	Command  string
	Label    string
	PID      byte
	Bytes    int
	Interval int
	Convert  func(raw []byte) (float64, error)
	Apply    func(s *models.VehicleSample, v float64)
}

func (p ParameterSpec) String() string {
	return fmt.Sprintf("%s (%s)", p.Command, p.Label)
}

// Command strings for the non-parametric queries.
const (
	CommandMILStatus   = "0101"
	CommandStoredDTCs  = "03"
	CommandClearDTCs   = "04"
	CommandVoltage     = "ATRV"
	CommandProtocolNum = "ATDPN"
)

func mode01(pid byte) string {
	return fmt.Sprintf("01%02X", pid)
}

func param(pid byte, label string, n, interval int, conv func([]byte) (float64, error), apply func(*models.VehicleSample, float64)) ParameterSpec {
	return ParameterSpec{
		Command:  mode01(pid),
		Label:    label,
		PID:      pid,
		Bytes:    n,
		Interval: interval,
		Convert:  conv,
		Apply:    apply,
	}
}

// Parameters is the polled PID set. Intervals stratify the reads into tiers
// (every cycle, every 2nd, 3rd, 4th, 5th and 10th).
var Parameters = []ParameterSpec{
	param(0x0C, "Engine RPM", 2, 1, word(func(v float64) float64 { return v / 4 }),
		func(s *models.VehicleSample, v float64) { s.RPM = v }),
	param(0x0D, "Vehicle Speed", 1, 1, single(identity),
		func(s *models.VehicleSample, v float64) { s.Speed = v }),
	param(0x04, "Engine Load", 1, 1, single(percent),
		func(s *models.VehicleSample, v float64) { s.EngineLoad = v }),
	param(0x11, "Throttle Position", 1, 1, single(percent),
		func(s *models.VehicleSample, v float64) { s.Throttle = v }),
	param(0x45, "Relative Throttle Position", 1, 1, single(percent),
		func(s *models.VehicleSample, v float64) { s.RelativeThrottle = v }),
	param(0x05, "Engine Coolant Temperature", 1, 2, single(celsius),
		func(s *models.VehicleSample, v float64) { s.CoolantTemp = v }),
	param(0x10, "MAF Air Flow Rate", 2, 2, word(func(v float64) float64 { return v / 100 }),
		func(s *models.VehicleSample, v float64) { s.MAF = v }),
	param(0x0E, "Timing Advance", 1, 2, single(func(v float64) float64 { return (v - 128) / 2 }),
		func(s *models.VehicleSample, v float64) { s.TimingAdvance = v }),
	param(0x06, "Short Term Fuel Trim Bank 1", 1, 2, single(fuelTrim),
		func(s *models.VehicleSample, v float64) { s.ShortTrimBank1 = v }),
	param(0x08, "Short Term Fuel Trim Bank 2", 1, 2, single(fuelTrim),
		func(s *models.VehicleSample, v float64) { s.ShortTrimBank2 = v }),
	param(0x0F, "Intake Air Temperature", 1, 3, single(celsius),
		func(s *models.VehicleSample, v float64) { s.IntakeTemp = v }),
	param(0x0A, "Fuel Pressure", 1, 3, single(func(v float64) float64 { return v * 3 }),
		func(s *models.VehicleSample, v float64) { s.FuelPressure = v }),
	param(0x5E, "Engine Fuel Rate", 2, 3, word(func(v float64) float64 { return v / 20 }),
		func(s *models.VehicleSample, v float64) { s.FuelRate = v }),
	param(0x07, "Long Term Fuel Trim Bank 1", 1, 4, single(fuelTrim),
		func(s *models.VehicleSample, v float64) { s.LongTrimBank1 = v }),
	param(0x09, "Long Term Fuel Trim Bank 2", 1, 4, single(fuelTrim),
		func(s *models.VehicleSample, v float64) { s.LongTrimBank2 = v }),
	param(0x2F, "Fuel Tank Level", 1, 5, single(percent),
		func(s *models.VehicleSample, v float64) { s.FuelLevel = v }),
	param(0x1F, "Run Time Since Engine Start", 2, 5, word(identity),
		func(s *models.VehicleSample, v float64) { s.Runtime = v }),
	param(0x46, "Ambient Air Temperature", 1, 10, ambient,
		func(s *models.VehicleSample, v float64) { s.AmbientTemp = v }),
	param(0x1C, "OBD Standard", 1, 10, single(identity),
		func(s *models.VehicleSample, v float64) { s.OBDStandard = OBDStandardLabel(int(v)) }),
}

// Due reports whether a parameter with the given interval is queried on cycle.
func Due(cycle, interval int) bool {
	if cycle == 1 {
		return true
	}
	if interval <= 0 {
		return false
	}
	return cycle%interval == 0
}

// Schedule returns the parameters due on cycle, in table order.
func Schedule(cycle int, specs []ParameterSpec) []ParameterSpec {
	var due []ParameterSpec
	for _, p := range specs {
		if Due(cycle, p.Interval) {
			due = append(due, p)
		}
	}
	return due
}

// ProtocolDue gates protocol (re)detection: first cycle, then every 10th.
func ProtocolDue(cycle int) bool { return Due(cycle, 10) }

// DTCDue gates the MIL/DTC re-check: first cycle, then every 5th.
func DTCDue(cycle int) bool { return Due(cycle, 5) }
