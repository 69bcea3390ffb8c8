package port

import "errors"

// Port errors (Section 4.6).
var (
	// ErrAddressInUse is the fatal error surfaced when every AARP probe
	// candidate the Port tried during AcquiringNodeAddress collided.
	ErrAddressInUse = errors.New("port: address in use")

	// ErrStartupTimeout is the fatal error surfaced when a non-seeded
	// Port could not discover its network within PortStartupTimeout.
	ErrStartupTimeout = errors.New("port: startup timeout")

	// ErrAlreadyStarted is returned when Start is called on a Port that
	// is not Unstarted.
	ErrAlreadyStarted = errors.New("port: already started")

	// ErrNotOnline is returned when Send/Broadcast is attempted on a
	// Port that has not reached Online.
	ErrNotOnline = errors.New("port: not online")

	// ErrStopped is returned when an operation is attempted on a
	// Stopped Port.
	ErrStopped = errors.New("port: stopped")
)
