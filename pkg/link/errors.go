package link

import "errors"

// Driver errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed driver.
	ErrClosed = errors.New("link: closed")

	// ErrNoHandler is returned when no handler is configured.
	ErrNoHandler = errors.New("link: no handler configured")

	// ErrAlreadyStarted is returned when Start is called on an already running driver.
	ErrAlreadyStarted = errors.New("link: already started")

	// ErrNotStarted is returned when Transmit is attempted before Start.
	ErrNotStarted = errors.New("link: not started")

	// ErrFrameTooLarge is returned when a frame exceeds the medium's MTU.
	ErrFrameTooLarge = errors.New("link: frame too large")
)
