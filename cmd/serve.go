package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/spatialrec/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the spatialrec HTTP API to control recording from another device on
the same network, for example a phone held next to the sound source.

The server displays the local network URL for easy access and exposes
Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Shutdown(); err != nil {
				slog.Warn("Service shutdown incomplete", "error", err)
			}
		}()

		// Request microphone access up front; clients may retry via /probe
		if _, err := svc.Probe(ctx); err != nil {
			slog.Warn("Microphone not available yet", "error", err)
		}

		slog.Info("spatialrec web server starting", "port", port, "config", cfgFile)

		// Start server (this blocks)
		if err := server.New(svc, port).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port for the web server (overrides config)")
}
