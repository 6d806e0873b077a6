package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"termbridge/internal/server"
	"termbridge/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playground HTTP server",
	Long: `Start the HTTP server hosting the browser playground: the session API,
the WebSocket terminal endpoint, and Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, err := session.NewExecLauncher(cfg)
	if err != nil {
		return err
	}
	store := session.NewStore(cfg, launcher)
	defer store.Close()

	log.Info().
		Str("address", cfg.Server.Addr()).
		Int("max_sessions", cfg.Session.MaxSessions).
		Msg("Starting termbridge server")
	log.Info().Msgf("Playground: http://%s/", cfg.Server.Addr())

	return server.NewServer(cfg, store).Run(ctx)
}
