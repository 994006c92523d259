package audio

import (
	"context"
	"errors"
	"log/slog"
)

const (
	fallbackSampleRate   = 44100
	fallbackChannelCount = 1
)

// DeviceCapability is a snapshot of what the granted input stream can do.
type DeviceCapability struct {
	ChannelCount int    `json:"channel_count" yaml:"channel_count"`
	SampleRate   int    `json:"sample_rate" yaml:"sample_rate"`
	DualMic      bool   `json:"dual_mic" yaml:"dual_mic"`
	BlockSize    int    `json:"block_size" yaml:"block_size"`
	DeviceClass  string `json:"device_class" yaml:"device_class"`
	Backend      string `json:"backend" yaml:"backend"`
	DeviceName   string `json:"device_name,omitempty" yaml:"device_name,omitempty"`
}

// MicType returns the filename tag for the microphone layout.
func (c DeviceCapability) MicType() string {
	if c.DualMic {
		return "DUAL"
	}
	return "MONO"
}

// Probe requests an input stream from src and derives the capability from
// the negotiated settings. On failure the returned error is always an
// *AccessDeniedError.
func Probe(ctx context.Context, src CaptureSource, c Constraints) (InputStream, DeviceCapability, error) {
	if src == nil {
		return nil, DeviceCapability{}, &AccessDeniedError{Backend: "none", Err: errors.New("capture API not available")}
	}

	stream, err := src.Open(ctx, c)
	if err != nil {
		var denied *AccessDeniedError
		if !errors.As(err, &denied) {
			err = &AccessDeniedError{Backend: src.Name(), Err: err}
		}
		slog.Warn("Microphone access denied", "backend", src.Name(), "error", err)
		return nil, DeviceCapability{}, err
	}

	settings := stream.Settings()
	capability := CapabilityFromSettings(settings)
	capability.Backend = src.Name()

	slog.Info("Microphone access granted",
		"backend", capability.Backend,
		"device", settings.DeviceName,
		"channels", settings.ChannelCount,
		"sample_rate", settings.SampleRate,
		"echo_cancellation", settings.EchoCancellation,
		"noise_suppression", settings.NoiseSuppression,
		"auto_gain", settings.AutoGainControl,
		"latency", settings.Latency)

	if capability.DualMic {
		slog.Info("Dual microphone detected, recording spatial stereo")
	} else {
		slog.Info("Single microphone, right channel will duplicate left")
	}

	return stream, capability, nil
}

// CapabilityFromSettings applies the fallbacks for values the stream did
// not report.
func CapabilityFromSettings(s StreamSettings) DeviceCapability {
	capability := DeviceCapability{
		ChannelCount: s.ChannelCount,
		SampleRate:   s.SampleRate,
		BlockSize:    DefaultBlockSize,
		DeviceName:   s.DeviceName,
	}
	if capability.SampleRate <= 0 {
		capability.SampleRate = fallbackSampleRate
	}
	if capability.ChannelCount <= 0 {
		capability.ChannelCount = fallbackChannelCount
	}
	capability.DualMic = capability.ChannelCount >= 2
	return capability
}
