package session

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/spatialrec/internal/audio"
)

// State represents the current state of the controller
type State string

const (
	StateIdle      State = "IDLE"
	StateArming    State = "ARMING"
	StateCapturing State = "CAPTURING"
	StateStopping  State = "STOPPING"
	StateEncoding  State = "ENCODING"
	StateComplete  State = "COMPLETE"
	StateFailed    State = "FAILED"
)

// EventType identifies an observer notification.
type EventType string

const (
	EventState     EventType = "state"
	EventCountdown EventType = "countdown"
	EventComplete  EventType = "complete"
	EventFailed    EventType = "failed"
)

// Event is delivered to the observer on every transition and countdown
// tick. Observers run on controller goroutines and must not block.
type Event struct {
	Type      EventType     `json:"type"`
	State     State         `json:"state"`
	Remaining time.Duration `json:"remaining,omitempty"`
	Countdown string        `json:"countdown,omitempty"`
	Level     float64       `json:"level,omitempty"`
	Recording *Recording    `json:"recording,omitempty"`
	Err       error         `json:"-"`
}

// SessionInfo contains information about the current recording session
type SessionInfo struct {
	Request    Request   `json:"request"`
	StartTime  time.Time `json:"start_time"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Samples    int       `json:"samples"`
	Remaining  string    `json:"remaining"`
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State      State                  `json:"state"`
	Ready      bool                   `json:"ready"`
	Capability audio.DeviceCapability `json:"capability"`
	Session    *SessionInfo           `json:"session,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	Recordings int                    `json:"recordings"`
}

// FormatCountdown renders a remaining duration as MM:SS, rounding up to
// the next whole second.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
