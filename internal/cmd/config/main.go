package config

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Run prints the effective configuration as YAML.
func Run(cmd *cobra.Command, args []string) {
	if err := Write(os.Stdout, viper.AllSettings()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Write encodes settings as YAML.
func Write(w io.Writer, settings map[string]any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
