package listen

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"obdrelay/internal/uploader"
	"obdrelay/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Run serves a debug collector that logs every uploaded sample.
func Run(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := viper.GetString("listen.addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", addr), zap.Error(err))
	}
	logger := log.Named("collector")
	logger.Info("collector listening", zap.String("addr", ln.Addr().String()))

	err = uploader.Serve(ctx, ln, logger, func(r uploader.Record) {
		logger.Info("sample received",
			zap.String("device", r.Device),
			zap.String("time", r.Clock),
			zap.Float64("rpm", r.Sample.RPM),
			zap.Float64("speed", r.Sample.Speed),
			zap.Float64("coolant", r.Sample.CoolantTemp),
			zap.Float64("voltage", r.Sample.Voltage),
			zap.Float64("lat", r.Coord.Latitude),
			zap.Float64("lon", r.Coord.Longitude),
			zap.Bool("mil", r.Sample.MILOn),
			zap.String("raw_dtc", r.Sample.RawDTC),
			zap.Int("pids_read", r.Sample.PIDsRead),
			zap.Int("pids_total", r.Sample.PIDsTotal))
	})
	if err != nil {
		log.Error("collector stopped", zap.Error(err))
	}
}
