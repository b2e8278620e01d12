package speakers

import "errors"

var (
	// ErrSessionTerminated is returned by every operation on a closed session.
	ErrSessionTerminated = errors.New("speaker session terminated")
	// ErrUnsupportedSource means the model cannot select the requested source.
	ErrUnsupportedSource = errors.New("source not supported by model")
	// ErrSpeakerNotFound means no session is registered under the key.
	ErrSpeakerNotFound = errors.New("speaker not found")
	// ErrSpeakerExists means a session is already registered under the key.
	ErrSpeakerExists = errors.New("speaker already registered")
	// ErrNightModeNotConfigured rejects night-mode overrides on speakers
	// without a night cap.
	ErrNightModeNotConfigured = errors.New("night mode not configured")
)
