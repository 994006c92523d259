package audio

import (
	"context"
	"fmt"
)

// DefaultBlockSize is the number of frames per capture callback when the
// configuration does not say otherwise.
const DefaultBlockSize = 8192

// Constraints describes the input stream requested from a capture source.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// Ideal values; the granted stream may differ.
	ChannelCount int
	SampleRate   int

	// Latency hint in seconds.
	Latency float64
}

// DefaultConstraints returns the raw-signal request used for spatial
// recordings: every processing stage disabled, stereo at 48kHz, low latency.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: false,
		NoiseSuppression: false,
		AutoGainControl:  false,
		ChannelCount:     2,
		SampleRate:       48000,
		Latency:          0.01,
	}
}

// StreamSettings are the values actually negotiated for a granted stream.
// Zero means the backend did not report the value.
type StreamSettings struct {
	ChannelCount     int     `json:"channel_count"`
	SampleRate       int     `json:"sample_rate"`
	EchoCancellation bool    `json:"echo_cancellation"`
	NoiseSuppression bool    `json:"noise_suppression"`
	AutoGainControl  bool    `json:"auto_gain_control"`
	Latency          float64 `json:"latency"`
	DeviceName       string  `json:"device_name"`
}

// PipelineConfig configures the source -> splitter -> processor chain of
// a single capture session.
type PipelineConfig struct {
	BlockSize int
	Channels  int
}

// BlockHandler receives one block per channel. right is nil when the
// stream only carries one channel. The slices are only valid for the
// duration of the call.
type BlockHandler func(left, right []float32)

// CaptureSource is the platform audio input API.
type CaptureSource interface {
	// Open requests an input stream. It returns an *AccessDeniedError when
	// permission is refused or the API is unavailable.
	Open(ctx context.Context, c Constraints) (InputStream, error)

	// Name returns the backend name.
	Name() string
}

// InputStream is a granted input stream. It outlives capture sessions;
// each session connects its own Pipeline.
type InputStream interface {
	Settings() StreamSettings

	// Connect wires the stream through the channel splitter and the
	// fixed-block processor and starts delivering blocks to h.
	Connect(ctx context.Context, cfg PipelineConfig, h BlockHandler) (Pipeline, error)

	Close() error
}

// Pipeline is one connected processing graph. After Close returns no
// more blocks are delivered. Close is safe to call more than once.
type Pipeline interface {
	Close() error
}

// AccessDeniedError reports that the input device could not be opened.
type AccessDeniedError struct {
	Backend string
	Err     error
}

func (e *AccessDeniedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("microphone access denied (%s)", e.Backend)
	}
	return fmt.Sprintf("microphone access denied (%s): %v", e.Backend, e.Err)
}

func (e *AccessDeniedError) Unwrap() error {
	return e.Err
}
