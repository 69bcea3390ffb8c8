package aarp

import "errors"

// ErrMalformed is returned when a buffer is too short to hold an AARP
// packet body.
var ErrMalformed = errors.New("aarp: malformed packet")
