package root

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"obdrelay/internal/displayer"
	"obdrelay/internal/engine"
	"obdrelay/internal/presenter"
	"obdrelay/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func Run(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fan := presenter.NewFanout()
	closeMirrors := Mirrors(ctx, fan)
	defer closeMirrors()

	up := Uploader(fan, Location(ctx))
	go up.Run(ctx)

	eng := engine.New(EngineConfig(fan, up))
	defer eng.Disconnect()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	delay := viper.GetDuration("adapter.reconnect-delay")
	if viper.GetBool("no-tui") {
		fan.Add(presenter.NewLog(log.Named("presenter")))
		log.Info("agent started", zap.String("device", viper.GetString("device.name")))
		Supervise(ctx, eng, delay)
		return
	}

	d := displayer.New(eng)
	fan.Add(d)
	go Supervise(ctx, eng, delay)

	if err := d.Run(ctx); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}
