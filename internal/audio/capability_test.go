package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/spatialrec/internal/config"
)

type fakeSource struct {
	settings StreamSettings
	err      error
	got      Constraints
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Open(ctx context.Context, c Constraints) (InputStream, error) {
	f.got = c
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{settings: f.settings}, nil
}

type fakeStream struct {
	settings StreamSettings
}

func (s *fakeStream) Settings() StreamSettings { return s.settings }

func (s *fakeStream) Connect(ctx context.Context, cfg PipelineConfig, h BlockHandler) (Pipeline, error) {
	return nil, errors.New("not connected in probe tests")
}

func (s *fakeStream) Close() error { return nil }

func TestProbe_Stereo(t *testing.T) {
	src := &fakeSource{settings: StreamSettings{ChannelCount: 2, SampleRate: 48000, DeviceName: "usb"}}

	stream, capability, err := Probe(context.Background(), src, DefaultConstraints())
	require.NoError(t, err)
	require.NotNil(t, stream)

	assert.True(t, capability.DualMic)
	assert.Equal(t, "DUAL", capability.MicType())
	assert.Equal(t, 2, capability.ChannelCount)
	assert.Equal(t, 48000, capability.SampleRate)
	assert.Equal(t, DefaultBlockSize, capability.BlockSize)
	assert.Equal(t, "fake", capability.Backend)
	assert.Equal(t, "usb", capability.DeviceName)

	assert.False(t, src.got.EchoCancellation)
	assert.False(t, src.got.NoiseSuppression)
	assert.False(t, src.got.AutoGainControl)
}

func TestProbe_FallbacksWhenUnreported(t *testing.T) {
	src := &fakeSource{}

	_, capability, err := Probe(context.Background(), src, DefaultConstraints())
	require.NoError(t, err)
	assert.Equal(t, 44100, capability.SampleRate)
	assert.Equal(t, 1, capability.ChannelCount)
	assert.False(t, capability.DualMic)
	assert.Equal(t, "MONO", capability.MicType())
}

func TestProbe_Denied(t *testing.T) {
	cause := errors.New("permission refused")
	src := &fakeSource{err: cause}

	stream, _, err := Probe(context.Background(), src, DefaultConstraints())
	assert.Nil(t, stream)

	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "fake", denied.Backend)
	assert.ErrorIs(t, err, cause)
}

func TestProbe_NoSource(t *testing.T) {
	_, _, err := Probe(context.Background(), nil, DefaultConstraints())
	var denied *AccessDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestConstraintsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.SampleRate = 44100
	cfg.Capture.ChannelCount = 1
	cfg.Capture.LatencyMs = 20

	c := ConstraintsFromConfig(cfg)
	assert.Equal(t, 44100, c.SampleRate)
	assert.Equal(t, 1, c.ChannelCount)
	assert.InDelta(t, 0.02, c.Latency, 1e-9)
	assert.False(t, c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl)
}

func TestNewCaptureSource(t *testing.T) {
	cfg := config.Default()

	cfg.Capture.Backend = "synthetic"
	assert.Equal(t, string(BackendTypeSynthetic), NewCaptureSource(cfg, nil).Name())

	cfg.Capture.Backend = "auto"
	assert.Equal(t, string(BackendTypePulse), NewCaptureSource(cfg, nil).Name())
}
