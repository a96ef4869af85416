package models

import "time"

// VehicleSample is the current-state snapshot produced by one collection cycle.
// Temperatures are °C, pressures kPa, percentages 0..100 (fuel trims -100..100).
type VehicleSample struct {
	RPM              float64 `json:"rpm"`
	Speed            float64 `json:"speed"`
	EngineLoad       float64 `json:"engineLoad"`
	Throttle         float64 `json:"throttle"`
	CoolantTemp      float64 `json:"coolantTemp"`
	IntakeTemp       float64 `json:"intakeTemp"`
	AmbientTemp      float64 `json:"ambientTemp"`
	Voltage          float64 `json:"voltage"`
	MAF              float64 `json:"maf"`
	FuelLevel        float64 `json:"fuelLevel"`
	ShortTrimBank1   float64 `json:"stft1"`
	LongTrimBank1    float64 `json:"ltft1"`
	ShortTrimBank2   float64 `json:"stft2"`
	LongTrimBank2    float64 `json:"ltft2"`
	FuelPressure     float64 `json:"fuelPressure"`
	TimingAdvance    float64 `json:"timingAdvance"`
	Runtime          float64 `json:"runtime"`
	FuelRate         float64 `json:"fuelRate"`
	RelativeThrottle float64 `json:"relativeThrottle"`
	OBDStandard      string  `json:"obdStandard"`

	DataValid bool       `json:"dataValid"`
	MILOn     bool       `json:"milOn"`
	DTCCount  int        `json:"dtcCount"`
	RawDTC    string     `json:"rawDtc"`
	DTCs      []DTCEntry `json:"dtcs,omitempty"`

	Protocol     int    `json:"protocol"`
	ProtocolName string `json:"protocolName"`

	// PIDsRead and PIDsTotal count the successful and attempted queries of
	// the cycle that produced the sample, battery voltage included.
	PIDsRead  int `json:"pidsRead"`
	PIDsTotal int `json:"pidsTotal"`

	Cycle     int       `json:"cycle"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSample returns an empty sample stamped with now.
func NewSample(now time.Time) VehicleSample {
	return VehicleSample{OBDStandard: "UNKNOWN", CreatedAt: now}
}

// Seed starts the next cycle's sample from s, keeping every decoded value so
// parameters skipped this cycle do not read as zero.
func (s VehicleSample) Seed(cycle int, now time.Time) VehicleSample {
	next := s.Clone()
	next.DataValid = false
	next.PIDsRead = 0
	next.PIDsTotal = 0
	next.Cycle = cycle
	next.CreatedAt = now
	return next
}

// Clone returns a deep copy.
func (s VehicleSample) Clone() VehicleSample {
	c := s
	if s.DTCs != nil {
		c.DTCs = make([]DTCEntry, len(s.DTCs))
		copy(c.DTCs, s.DTCs)
	}
	return c
}
