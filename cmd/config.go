package cmd

import (
	"obdrelay/internal/cmd/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Run:   config.Run,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
