package cmd

import (
	"obdrelay/internal/cmd/dtc"

	"github.com/spf13/cobra"
)

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Read the MIL status and stored trouble codes once",
	Run:   dtc.Run,
}

var clearDTCCmd = &cobra.Command{
	Use:   "clear-dtc",
	Short: "Clear stored trouble codes and turn off the MIL",
	Run:   dtc.RunClear,
}

func init() {
	rootCmd.AddCommand(dtcCmd, clearDTCCmd)
}
