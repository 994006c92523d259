package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInputSource is returned by Start before a stream was granted.
	ErrNoInputSource = errors.New("no input source: microphone access has not been granted")

	// ErrSessionActive is returned when a session is already running.
	ErrSessionActive = errors.New("a recording session is already active")

	// ErrSessionCancelled is the result of a session stopped while arming.
	ErrSessionCancelled = errors.New("recording session cancelled before capture")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// PersistenceError reports that a recording could not be stored.
type PersistenceError struct {
	RecordingID string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist recording %s: %v", e.RecordingID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
