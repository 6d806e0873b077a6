package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"termbridge/internal/config"
	"termbridge/internal/termio"
	"termbridge/internal/worker"
)

var (
	workerSegmentPath  string
	workerPollInterval time.Duration
	workerRunTimeout   time.Duration

	workerCmd = &cobra.Command{
		Use:    "worker",
		Short:  "Run as a bridge worker process",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE:   runWorkerProcess,
	}
)

func init() {
	workerCmd.Flags().StringVar(&workerSegmentPath, "segment", "", "path to the shared memory segment file")
	workerCmd.Flags().DurationVar(&workerPollInterval, "poll-interval", 2*time.Millisecond, "bridge poll interval")
	workerCmd.Flags().DurationVar(&workerRunTimeout, "run-timeout", 0, "per-run execution bound, 0 for none")
	workerCmd.MarkFlagRequired("segment")
	rootCmd.AddCommand(workerCmd)
}

// runWorkerProcess is the child side of the bridge. The parent passes every
// bridge parameter on the command line so both sides agree without sharing
// a config file; only logging comes from the inherited environment.
func runWorkerProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	cfg.Log.Setup()

	seg, err := termio.OpenSegment(workerSegmentPath)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer seg.Close()

	w := worker.New(seg, worker.Options{
		PollInterval: workerPollInterval,
		RunTimeout:   workerRunTimeout,
	})
	log.Debug().
		Str("segment", workerSegmentPath).
		Int("pid", os.Getpid()).
		Msg("Worker attached to bridge")

	return w.Serve(cmd.Context(), os.Stdin, os.Stdout)
}
