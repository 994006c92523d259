// Package cue plays the short tone that tells the operator a recording is
// about to start.
package cue

import (
	"context"
	"math"
	"time"
)

// EndGain is the gain the tone decays to by its last sample.
const EndGain = 0.01

// Player plays a cue and blocks until it has finished.
type Player interface {
	PlayCue(ctx context.Context) error
}

// Nop is a Player that plays nothing.
type Nop struct{}

func (Nop) PlayCue(ctx context.Context) error {
	return ctx.Err()
}

// Tone is a sine burst with an exponential gain ramp from Volume down to
// EndGain.
type Tone struct {
	FrequencyHz float64
	Duration    time.Duration
	Volume      float64
}

// DefaultTone returns the 1kHz, 400ms buzzer.
func DefaultTone() Tone {
	return Tone{
		FrequencyHz: 1000,
		Duration:    400 * time.Millisecond,
		Volume:      0.3,
	}
}

// Samples renders the tone as mono float samples.
func (t Tone) Samples(sampleRate int) []float32 {
	if sampleRate <= 0 || t.Duration <= 0 {
		return nil
	}
	n := int(t.Duration.Seconds() * float64(sampleRate))
	out := make([]float32, n)

	start := t.Volume
	if start <= 0 {
		return out
	}
	end := math.Min(EndGain, start)
	ratio := end / start
	for i := range out {
		progress := float64(i) / float64(n)
		gain := start * math.Pow(ratio, progress)
		out[i] = float32(gain * math.Sin(2*math.Pi*t.FrequencyHz*float64(i)/float64(sampleRate)))
	}
	return out
}
