package audio

import (
	"log/slog"
	"strings"
	"time"

	"github.com/audiolibrelab/spatialrec/internal/config"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypePulse     BackendType = "pulse"
	BackendTypeSynthetic BackendType = "synthetic"
	BackendTypeAuto      BackendType = "auto"
)

// NewCaptureSource creates a capture source using the backend selected in
// the configuration. Auto resolves to pulse; an unreachable server
// surfaces later as an access denied probe.
func NewCaptureSource(cfg *config.Config, logger *slog.Logger) CaptureSource {
	switch determineBackend(cfg) {
	case BackendTypeSynthetic:
		opts := []SyntheticOption{
			WithTones(cfg.Capture.Synthetic.LeftHz, cfg.Capture.Synthetic.RightHz),
			WithAmplitude(cfg.Capture.Synthetic.Amplitude),
		}
		if cfg.Capture.Synthetic.Mono {
			opts = append(opts, WithMono())
		}
		return NewSyntheticSource(logger, opts...)
	default:
		return NewPulseSource(cfg.Capture.Source)
	}
}

// ConstraintsFromConfig builds the probe constraints. Processing flags
// stay off regardless of configuration.
func ConstraintsFromConfig(cfg *config.Config) Constraints {
	c := DefaultConstraints()
	if cfg.Capture.ChannelCount > 0 {
		c.ChannelCount = cfg.Capture.ChannelCount
	}
	if cfg.Capture.SampleRate > 0 {
		c.SampleRate = cfg.Capture.SampleRate
	}
	c.Latency = (time.Duration(cfg.Capture.LatencyMs) * time.Millisecond).Seconds()
	return c
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Capture.Backend) {
	case "synthetic":
		return BackendTypeSynthetic
	case "pulse", "auto", "":
		return BackendTypePulse
	}
	return BackendTypePulse
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}

	if _, err := ListPulseSources(); err == nil {
		backends = append(backends, BackendTypePulse)
	}
	backends = append(backends, BackendTypeSynthetic)

	return backends
}
