package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/spatialrec/internal/config"
	"github.com/audiolibrelab/spatialrec/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "spatialrec",
	Short: "Stereo microphone capture for spatial audio datasets",
	Long: `spatialrec records short stereo clips from the microphone with every
input processing stage disabled, and saves them as 16-bit PCM WAV files
named after the direction and distance of the sound source.

Each recording is announced by a short cue tone, captured for a fixed
duration and stored together with its metadata.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// info only inspects a file
		if cmd.Name() == "info" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Validate pipeline if provided
		if err := validatePipeline(); err != nil {
			return err
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/spatialrec.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "session profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// newService creates the service for the loaded configuration
func newService(ctx context.Context) (*service.SpatialRecService, error) {
	slog.Debug("Creating service instance", "backend", cfg.Capture.Backend, "storage", cfg.Storage.Backend)
	svc, err := service.New(ctx, cfg, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
