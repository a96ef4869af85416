package presenter

import (
	"go.uber.org/zap"

	"obdrelay/internal/models"
)

// Log writes every update to a zap logger. It is the headless presenter.
type Log struct {
	log *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{log: logger}
}

func (l *Log) ConnectionChanged(state models.ConnectionState) {
	l.log.Info("connection", zap.Stringer("state", state))
}

func (l *Log) SampleUpdated(s models.VehicleSample) {
	if !s.DataValid {
		l.log.Info("sample", zap.Int("cycle", s.Cycle), zap.Bool("valid", false))
		return
	}
	l.log.Info("sample",
		zap.Int("cycle", s.Cycle),
		zap.Float64("rpm", s.RPM),
		zap.Float64("speed", s.Speed),
		zap.Float64("coolant", s.CoolantTemp),
		zap.Float64("voltage", s.Voltage),
		zap.Bool("mil", s.MILOn),
		zap.Int("dtcs", s.DTCCount),
		zap.Int("pids_read", s.PIDsRead),
		zap.Int("pids_total", s.PIDsTotal))
}

func (l *Log) UploadFinished(r models.UploadResult) {
	if r.OK {
		l.log.Info("upload", zap.Stringer("result", r))
		return
	}
	l.log.Warn("upload", zap.Stringer("result", r))
}
