package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/spatialrec/internal/session"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one stereo clip",
	Long: `Play the cue tone, capture the microphone for the configured duration and
save the clip as a WAV file. Direction, distance, duration and tag default to
the session section of the configuration (or the selected profile).

Press Ctrl+C to stop early; whatever was captured is still encoded and saved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := newService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		req, err := requestFromFlags(cmd, svc.DefaultRequest())
		if err != nil {
			return err
		}

		svc.SetObserver(func(ev session.Event) {
			switch {
			case ev.Type == session.EventCountdown:
				fmt.Fprintf(os.Stderr, "\r● REC %s  %s", ev.Countdown, levelMeter(ev.Level, 20))
			case ev.Type == session.EventState && ev.State == session.StateEncoding:
				fmt.Fprintln(os.Stderr)
			}
		})

		slog.Info("Record command started",
			"direction", req.Direction,
			"distance", req.Distance,
			"duration", req.Duration,
			"tag", req.Tag)

		rec, err := svc.Record(ctx, req)
		if err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("recording cancelled")
		}

		fmt.Printf("Saved %s (%s, %.2fs, %s mic)\n", rec.Filename, formatSize(rec.Size), rec.ActualDuration, rec.MicType)
		if rec.PersistError != "" {
			fmt.Fprintf(os.Stderr, "Warning: recording was not stored: %s\n", rec.PersistError)
		}

		// Execute pipeline if specified
		return executePipeline(context.Background(), svc, rec.ID)
	},
}

// requestFromFlags overrides the defaults with the flags set on cmd
func requestFromFlags(cmd *cobra.Command, req session.Request) (session.Request, error) {
	flags := cmd.Flags()
	if flags.Changed("direction") {
		direction, _ := flags.GetInt("direction")
		if direction < 0 || direction >= 360 {
			return req, fmt.Errorf("direction must be in [0, 360), got %d", direction)
		}
		req.Direction = direction
	}
	if flags.Changed("distance") {
		distance, _ := flags.GetInt("distance")
		if distance < 0 {
			return req, fmt.Errorf("distance must not be negative, got %d", distance)
		}
		req.Distance = distance
	}
	if flags.Changed("duration") {
		seconds, _ := flags.GetInt("duration")
		if seconds < 1 {
			return req, fmt.Errorf("duration must be at least 1 second, got %d", seconds)
		}
		req.Duration = time.Duration(seconds) * time.Second
	}
	if flags.Changed("tag") {
		req.Tag, _ = flags.GetString("tag")
	}
	return req, nil
}

func levelMeter(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

func init() {
	recordCmd.Flags().IntP("direction", "d", 0, "source direction in degrees (overrides config)")
	recordCmd.Flags().IntP("distance", "D", 0, "source distance in feet (overrides config)")
	recordCmd.Flags().IntP("duration", "t", 0, "recording duration in seconds (overrides config)")
	recordCmd.Flags().String("tag", "", "free-form label stored with the recording")
	recordCmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "post-record steps: e=export, p=play (e.g., 'ep')")
}
