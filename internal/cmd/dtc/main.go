package dtc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"obdrelay/internal/cmd/root"
	"obdrelay/internal/engine"
	"obdrelay/internal/models"
	"obdrelay/pkg/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// timeout bounds a one-shot session, adapter search included.
const timeout = 3 * time.Minute

// session connects and initializes the adapter without periodic polling.
func session(ctx context.Context) (*engine.Engine, error) {
	cfg := root.EngineConfig(nil, nil)
	cfg.ManualPolling = true
	eng := engine.New(cfg)
	if err := eng.Connect(ctx); err != nil {
		return nil, err
	}
	if err := eng.WaitReady(ctx); err != nil {
		eng.Disconnect()
		return nil, err
	}
	return eng, nil
}

// Run reads the MIL status and stored trouble codes once.
func Run(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eng, err := session(ctx)
	if err != nil {
		log.Fatal("adapter not available", zap.Error(err))
	}
	defer eng.Disconnect()

	mil, codes, err := eng.ReadTroubleCodes(ctx)
	if err != nil {
		log.Error("failed to read trouble codes", zap.Error(err))
		return
	}
	printCodes(os.Stdout, mil, codes)
}

// RunClear clears stored trouble codes and the MIL.
func RunClear(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eng, err := session(ctx)
	if err != nil {
		log.Fatal("adapter not available", zap.Error(err))
	}
	defer eng.Disconnect()

	if err := eng.ClearTroubleCodes(ctx); err != nil {
		log.Error("failed to clear trouble codes", zap.Error(err))
		return
	}
	fmt.Println("Trouble codes cleared.")
}

func printCodes(w io.Writer, mil bool, codes []models.DTCEntry) {
	state := "off"
	if mil {
		state = "on"
	}
	fmt.Fprintf(w, "MIL: %s\n", state)
	fmt.Fprintln(w, "Current DTC Error Codes:")
	if len(codes) == 0 {
		fmt.Fprintln(w, "No error codes.")
		return
	}
	for _, code := range codes {
		fmt.Fprintf(w, "- %s: %s\n", code.Code, code.Description)
	}
}
