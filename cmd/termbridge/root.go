package main

import (
	"github.com/spf13/cobra"

	"termbridge/internal/config"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "termbridge",
		Short: "Shared memory terminal bridge for sandboxed program runs",
		Long: `termbridge executes user programs in worker processes and moves their
terminal I/O through lock-free shared memory rings: program output in one
direction, key events in the other.

The serve command hosts the browser playground; run executes a single
program with the local terminal attached.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
}

// loadConfig builds the effective configuration and puts logging into the
// configured shape before anything else writes a log line.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	cfg.Log.Setup()
	return cfg, nil
}
