package cmd

import (
	"fmt"
	"math"
	"os"

	"github.com/audiolibrelab/spatialrec/internal/audio"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [file.wav]",
	Short: "Show the format and levels of a WAV file",
	Long:  `Validate a WAV file and display its format, length and per-channel peak levels.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		if err := audio.ValidateWAV(data); err != nil {
			fmt.Printf("warning: %v\n", err)
		}

		info, err := audio.ReadInfoBytes(data)
		if err != nil {
			return err
		}

		fmt.Printf("=== %s ===\n", args[0])
		fmt.Printf("sample_rate: %d\n", info.SampleRate)
		fmt.Printf("channels: %d\n", info.Channels)
		fmt.Printf("bits_per_sample: %d\n", info.BitsPerSample)
		fmt.Printf("samples: %d\n", info.Samples)
		fmt.Printf("duration: %s\n", info.Duration)
		fmt.Printf("size: %s\n", formatSize(len(data)))

		channels, _, err := audio.DecodePCM(data)
		if err != nil {
			return err
		}
		fmt.Printf("\n[Levels]\n")
		for i, samples := range channels {
			fmt.Printf("channel %d: peak %s\n", i, formatPeak(samples))
		}
		if len(channels) == 2 && equalSamples(channels[0], channels[1]) {
			fmt.Println("note: both channels are identical (mono capture)")
		}

		return nil
	},
}

func formatPeak(samples []int) string {
	peak := 0
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		return "silent"
	}
	return fmt.Sprintf("%d (%.1f dBFS)", peak, 20*math.Log10(float64(peak)/32768))
}

func equalSamples(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
