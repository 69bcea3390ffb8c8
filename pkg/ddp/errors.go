// Package ddp implements the AppleTalk Datagram Delivery Protocol: header
// encoding/decoding, checksum computation, and the forwarding decision a
// router makes for a decoded datagram.
package ddp

import "errors"

// Datagram engine errors (Section 7 of the router design).
var (
	// ErrMalformedDatagram is returned when a buffer's embedded length field
	// does not match the slice presented to Decode.
	ErrMalformedDatagram = errors.New("ddp: malformed datagram")

	// ErrChecksumMismatch is returned when a non-zero checksum does not
	// match the recomputed value.
	ErrChecksumMismatch = errors.New("ddp: checksum mismatch")

	// ErrHopLimitExceeded names the case where forwarding the datagram
	// would require a hop count beyond 15. Decide reports that case as
	// Drop; no function in this module returns this error.
	ErrHopLimitExceeded = errors.New("ddp: hop limit exceeded")

	// ErrNoRoute is returned by router.Router.RouteOut when no route, or
	// no port for the route, exists for the destination network.
	ErrNoRoute = errors.New("ddp: no route to destination network")

	// ErrPayloadTooLarge is returned by EncodeLong and EncodeShort when the
	// payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("ddp: payload exceeds maximum size")
)
