package cmd

import (
	"fmt"
	"os"
	"strings"

	"obdrelay/internal/cmd/root"
	"obdrelay/internal/obd/ble"
	"obdrelay/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "obdrelay",
	Short: "Relay ELM327 OBD-II telemetry to a collector",
	Run:   root.Run,
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().Bool("no-tui", false, "Run without TUI, logging to stderr")
	rootCmd.PersistentFlags().Bool("mock", false, "Use the simulated adapter")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file")
	rootCmd.PersistentFlags().String("device", "OBDRELAY", "Device name sent with every sample")
	rootCmd.PersistentFlags().StringSlice("adapters", []string{"wifi", "ble"}, "Transports to try, in order (wifi, ble, serial)")
	rootCmd.PersistentFlags().String("collector-host", "127.0.0.1", "Collector host")
	rootCmd.PersistentFlags().Int("collector-port", 5055, "Collector port")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("no-tui", rootCmd.PersistentFlags().Lookup("no-tui"))
	viper.BindPFlag("mock", rootCmd.PersistentFlags().Lookup("mock"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("device.name", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("adapter.order", rootCmd.PersistentFlags().Lookup("adapters"))
	viper.BindPFlag("collector.host", rootCmd.PersistentFlags().Lookup("collector-host"))
	viper.BindPFlag("collector.port", rootCmd.PersistentFlags().Lookup("collector-port"))

	// Set default values
	viper.SetDefault("debug", false)
	viper.SetDefault("no-tui", false)
	viper.SetDefault("mock", false)
	viper.SetDefault("log-file", "")
	viper.SetDefault("device.name", "OBDRELAY")

	viper.SetDefault("adapter.order", []string{"wifi", "ble"})
	viper.SetDefault("adapter.reconnect-delay", "30s")
	viper.SetDefault("adapter.wifi.host", "192.168.0.10")
	viper.SetDefault("adapter.wifi.port", 35000)
	viper.SetDefault("adapter.wifi.timeout", "15s")
	viper.SetDefault("adapter.wifi.dial-timeout", "10s")
	viper.SetDefault("adapter.ble.keywords", ble.DefaultKeywords)
	viper.SetDefault("adapter.ble.rssi-threshold", int(ble.DefaultRSSIThreshold))
	viper.SetDefault("adapter.ble.scan-timeout", "15s")
	viper.SetDefault("adapter.serial.port", "/dev/rfcomm0")
	viper.SetDefault("adapter.serial.baud", 38400)

	viper.SetDefault("collector.host", "127.0.0.1")
	viper.SetDefault("collector.port", 5055)

	viper.SetDefault("poll.interval", "30s")
	viper.SetDefault("poll.retries", 1)

	viper.SetDefault("upload.attempts", 3)
	viper.SetDefault("upload.retry-delay", "5s")
	viper.SetDefault("upload.timeout", "15s")
	viper.SetDefault("upload.queue", 16)

	viper.SetDefault("gps.port", "")
	viper.SetDefault("gps.baud", 9600)

	viper.SetDefault("mqtt.broker", "")
	viper.SetDefault("mqtt.topic", "obdrelay")
	viper.SetDefault("http.listen", "")
}

func initConfig() {
	viper.SetEnvPrefix("OBDRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "read config %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

func initLogger() {
	var outputs []string
	if f := viper.GetString("log-file"); f != "" {
		outputs = append(outputs, f)
	}
	log.InitLogger(viper.GetBool("debug"), outputs...)
}

func Execute() {
	defer log.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
