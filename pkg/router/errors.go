package router

import "errors"

// Router lifecycle errors.
var (
	// ErrAlreadyStarted is returned by Start on a Router that is already
	// running.
	ErrAlreadyStarted = errors.New("router: already started")

	// ErrNotStarted is returned by Stop on a Router that was never
	// started, or has already been stopped.
	ErrNotStarted = errors.New("router: not started")
)
