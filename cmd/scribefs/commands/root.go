// Package commands wires the scribefs CLI: one binary with subcommands for
// the name server, storage server, and interactive client.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "scribefs",
	Short:         "Distributed sentence-granularity file editing",
	Long:          "scribefs runs the name server, storage servers, and client of a small distributed file service for editing plain-text documents at sentence granularity.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
