package cue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/audiolibrelab/spatialrec/internal/config"
)

const playbackSampleRate = 48000

// PulseBuzzer plays a Tone on the default sink.
type PulseBuzzer struct {
	Tone       Tone
	SampleRate int
}

var _ Player = (*PulseBuzzer)(nil)

// NewPulseBuzzer creates a buzzer for the given tone.
func NewPulseBuzzer(tone Tone) *PulseBuzzer {
	return &PulseBuzzer{Tone: tone, SampleRate: playbackSampleRate}
}

// FromConfig returns the configured cue player, or Nop when disabled.
func FromConfig(cfg *config.Config) Player {
	if !cfg.Cue.Enabled {
		return Nop{}
	}
	return NewPulseBuzzer(Tone{
		FrequencyHz: cfg.Cue.FrequencyHz,
		Duration:    cfg.CueDuration(),
		Volume:      cfg.Cue.Volume,
	})
}

// PlayCue renders the tone and waits for the sink to drain it.
func (b *PulseBuzzer) PlayCue(ctx context.Context) error {
	samples := b.Tone.Samples(b.SampleRate)
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	defer client.Close()

	pos := 0
	reader := pulse.Float32Reader(func(out []float32) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(out, samples[pos:])
		pos += n
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackSampleRate(b.SampleRate),
		pulse.PlaybackChannels(proto.ChannelMap{proto.ChannelMono}),
		pulse.PlaybackLatency(0.05),
	)
	if err != nil {
		return fmt.Errorf("unable to initialize a playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("an error occurred during playback: %w", err)
	}

	drained := make(chan struct{})
	go func() {
		stream.Drain()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		stream.Stop()
		<-drained
		return ctx.Err()
	case <-drained:
	}

	if err := stream.Error(); err != nil {
		return fmt.Errorf("an error occurred during playback: %w", err)
	}
	slog.Debug("Cue played", "frequency_hz", b.Tone.FrequencyHz, "duration", b.Tone.Duration.Round(time.Millisecond))
	return nil
}
