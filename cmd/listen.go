package cmd

import (
	"obdrelay/internal/cmd/listen"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a debug collector that logs uploaded samples",
	Run:   listen.Run,
}

func init() {
	listenCmd.Flags().String("addr", ":5055", "Address to accept uploads on")
	viper.BindPFlag("listen.addr", listenCmd.Flags().Lookup("addr"))
	viper.SetDefault("listen.addr", ":5055")

	rootCmd.AddCommand(listenCmd)
}
