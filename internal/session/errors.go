package session

import "errors"

var (
	// ErrNotFound is returned when no session has the requested ID.
	ErrNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when creating a session would exceed
	// the configured cap.
	ErrTooManySessions = errors.New("session limit reached")

	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrRunActive is returned when a run is requested while another run
	// is still in progress on the same session.
	ErrRunActive = errors.New("a run is already in progress")

	// ErrAlreadyAttached is returned when a second terminal tries to
	// attach. The output ring has exactly one consumer seat.
	ErrAlreadyAttached = errors.New("a terminal is already attached to this session")
)
