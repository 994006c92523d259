package session

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/spatialrec/internal/audio"
)

// ProcessingNone marks a recording captured with every input processing
// stage disabled.
const ProcessingNone = "NONE"

// Request describes one recording position.
type Request struct {
	Direction int           `json:"direction"` // degrees
	Distance  int           `json:"distance"`  // feet
	Duration  time.Duration `json:"duration"`
	Tag       string        `json:"tag,omitempty"`
}

// DurationSeconds returns the requested duration in whole seconds.
func (r Request) DurationSeconds() int {
	return int(r.Duration / time.Second)
}

// Recording is the immutable result of a completed session.
type Recording struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`

	Direction int    `json:"direction"`
	Distance  int    `json:"distance"`
	Duration  int    `json:"duration"` // requested seconds
	Tag       string `json:"tag,omitempty"`

	SampleRate     int     `json:"sample_rate"`
	Channels       int     `json:"channels"`
	BitDepth       int     `json:"bit_depth"`
	ActualSamples  int     `json:"actual_samples"`
	ActualDuration float64 `json:"actual_duration_seconds"`
	Size           int     `json:"size_bytes"`

	Device            audio.DeviceCapability `json:"device"`
	MicType           string                 `json:"mic_type"`
	DeviceType        string                 `json:"device_type"`
	ProcessingApplied string                 `json:"processing_applied"`
	BuzzerPlayed      bool                   `json:"buzzer_played_before"`

	// Set when the store rejected the recording. It stays available in
	// memory either way.
	PersistError string `json:"persist_error,omitempty"`

	Data []byte `json:"-"`
}

// Filename builds the download name of a recording.
func Filename(req Request, capability audio.DeviceCapability, at time.Time) string {
	device := capability.DeviceClass
	if device == "" {
		device = "DSK"
	}
	return fmt.Sprintf("SPATIAL_%ddeg_%dft_%dsec_%s_%s_%s_%s.wav",
		req.Direction,
		req.Distance,
		req.DurationSeconds(),
		device,
		capability.MicType(),
		at.Format("20060102"),
		at.Format("150405"),
	)
}

func newRecording(id string, req Request, capability audio.DeviceCapability, art *audio.Artifact, at time.Time, buzzer bool) *Recording {
	device := capability.DeviceClass
	if device == "" {
		device = "DSK"
	}
	return &Recording{
		ID:                id,
		Filename:          Filename(req, capability, at),
		Timestamp:         at,
		Direction:         req.Direction,
		Distance:          req.Distance,
		Duration:          req.DurationSeconds(),
		Tag:               req.Tag,
		SampleRate:        art.SampleRate,
		Channels:          art.Channels,
		BitDepth:          art.BitDepth,
		ActualSamples:     art.Samples,
		ActualDuration:    art.Seconds(),
		Size:              art.Size(),
		Device:            capability,
		MicType:           capability.MicType(),
		DeviceType:        device,
		ProcessingApplied: ProcessingNone,
		BuzzerPlayed:      buzzer,
		Data:              art.Data,
	}
}
