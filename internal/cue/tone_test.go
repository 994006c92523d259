package cue

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/spatialrec/internal/config"
)

func TestTone_Length(t *testing.T) {
	samples := DefaultTone().Samples(48000)
	assert.Len(t, samples, 19200)

	assert.Nil(t, DefaultTone().Samples(0))
	assert.Nil(t, Tone{FrequencyHz: 1000}.Samples(48000))
}

func TestTone_EnvelopeDecays(t *testing.T) {
	tone := DefaultTone()
	samples := tone.Samples(48000)

	peak := func(from, to int) float64 {
		var p float64
		for _, s := range samples[from:to] {
			p = math.Max(p, math.Abs(float64(s)))
		}
		return p
	}

	// one 1kHz period is 48 samples
	head := peak(0, 48)
	tail := peak(len(samples)-48, len(samples))
	assert.InDelta(t, 0.3, head, 0.01)
	assert.InDelta(t, EndGain, tail, 0.005)
	assert.Greater(t, head, tail)

	for _, s := range samples {
		require.LessOrEqual(t, math.Abs(float64(s)), tone.Volume+1e-6)
	}
}

func TestTone_Silent(t *testing.T) {
	samples := Tone{FrequencyHz: 1000, Duration: 10 * time.Millisecond}.Samples(8000)
	require.Len(t, samples, 80)
	for _, s := range samples {
		assert.Equal(t, float32(0), s)
	}
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.PlayCue(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Nop{}.PlayCue(ctx), context.Canceled)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cue.Enabled = false
	assert.IsType(t, Nop{}, FromConfig(cfg))

	cfg.Cue.Enabled = true
	cfg.Cue.FrequencyHz = 880
	cfg.Cue.DurationMs = 250
	p, ok := FromConfig(cfg).(*PulseBuzzer)
	require.True(t, ok)
	assert.Equal(t, 880.0, p.Tone.FrequencyHz)
	assert.Equal(t, 250*time.Millisecond, p.Tone.Duration)
}
