package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"obdrelay/internal/elm"
	"obdrelay/internal/models"
	"obdrelay/internal/obd"
)

// runCycle performs one collection cycle: voltage, periodic protocol
// detection, the scheduled parameter sweep, the periodic DTC check and
// finalization. Only transport failures and cancellation are returned.
func (e *Engine) runCycle(ctx context.Context, ch elm.Exchanger) error {
	e.mu.Lock()
	if !e.state.Connected() {
		e.mu.Unlock()
		e.log.Info("skipping cycle, not connected")
		return nil
	}
	e.cycle++
	cycle := e.cycle
	sample := e.sample.Seed(cycle, e.cfg.Now())
	forceDTC := e.forceDTC
	e.forceDTC = false
	dtcRev, protoRev := e.dtcRev, e.protoRev
	e.mu.Unlock()

	logger := e.log.With(zap.Int("cycle", cycle))
	logger.Debug("cycle started")

	var read, total int

	// voltage
	total++
	resp, err := ch.Exchange(ctx, obd.CommandVoltage, e.cfg.Retries)
	if err != nil {
		return err
	}
	if v, err := obd.DecodeVoltage(resp); err != nil {
		logger.Warn("voltage not decoded", zap.Error(err))
	} else {
		sample.Voltage = v
		read++
	}

	if obd.ProtocolDue(cycle) {
		resp, err := ch.Exchange(ctx, obd.CommandProtocolNum, e.cfg.Retries)
		if err != nil {
			return err
		}
		if n, err := obd.DecodeProtocolNumber(resp); err != nil {
			logger.Warn("protocol not decoded", zap.Error(err))
		} else {
			sample.Protocol = n
			sample.ProtocolName = obd.ProtocolName(n)
		}
	}

	for i, p := range obd.Schedule(cycle, obd.Parameters) {
		if i > 0 {
			if err := pause(ctx, e.cfg.Spacing); err != nil {
				return err
			}
		}
		total++
		resp, err := ch.Exchange(ctx, p.Command, e.cfg.Retries)
		if err != nil {
			return err
		}
		v, err := obd.Decode(p, resp)
		if err != nil {
			logger.Warn("parameter not decoded", zap.String("parameter", p.Label), zap.Error(err))
			continue
		}
		p.Apply(&sample, v)
		read++
	}

	if forceDTC || obd.DTCDue(cycle) {
		if err := e.checkDTCs(ctx, ch, &sample); err != nil {
			return err
		}
	}

	sample.PIDsRead = read
	sample.PIDsTotal = total
	sample.DataValid = read > 0

	e.mu.Lock()
	// manual commands that completed during the cycle are newer
	if e.dtcRev != dtcRev {
		sample.MILOn = e.sample.MILOn
		sample.DTCCount = e.sample.DTCCount
		sample.DTCs = e.sample.DTCs
		sample.RawDTC = e.sample.RawDTC
	}
	if e.protoRev != protoRev {
		sample.Protocol = e.sample.Protocol
		sample.ProtocolName = e.sample.ProtocolName
	}
	e.sample = sample
	e.mu.Unlock()

	e.cfg.Presenter.SampleUpdated(sample.Clone())
	if !sample.DataValid {
		logger.Warn("cycle finished without data", zap.Error(ErrPartialData), zap.Int("queried", total))
		return nil
	}
	logger.Info("cycle finished", zap.Int("read", read), zap.Int("queried", total))
	if e.cfg.Uploads != nil {
		e.cfg.Uploads.Enqueue(sample.Clone())
	}
	return nil
}

// checkDTCs reads the MIL status and, if any codes are stored, the codes.
// The four trouble code fields change together: a decode failure at either
// step leaves all of them as they were.
func (e *Engine) checkDTCs(ctx context.Context, ch elm.Exchanger, sample *models.VehicleSample) error {
	resp, err := ch.Exchange(ctx, obd.CommandMILStatus, e.cfg.Retries)
	if err != nil {
		return err
	}
	milOn, count, err := obd.DecodeMILStatus(resp)
	if err != nil {
		e.log.Warn("MIL status not decoded", zap.Error(err))
		return nil
	}
	if count == 0 {
		sample.MILOn = milOn
		sample.DTCCount = 0
		sample.DTCs = nil
		sample.RawDTC = ""
		return nil
	}

	resp, err = ch.Exchange(ctx, obd.CommandStoredDTCs, e.cfg.Retries)
	if err != nil {
		return err
	}
	codes, err := obd.DecodeDTCs(resp)
	if err != nil {
		e.log.Warn("trouble codes not decoded", zap.Error(err), zap.Int("reported", count))
		return nil
	}
	sample.MILOn = milOn
	sample.DTCCount = count
	sample.DTCs = codes
	sample.RawDTC = obd.CompactReply(resp)
	e.log.Info("trouble codes read", zap.Bool("mil", milOn), zap.Int("count", len(codes)))
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
