// Package rib implements the routing information base (RIB) and zone
// information base (ZIB): the RTMP- and ZIP-driven tables that back
// forwarding decisions, keyed by non-overlapping AppleTalk network ranges,
// with the ageing state machine described in Section 4.2.
package rib

import "errors"

var (
	// ErrOverlappingRange is returned by InsertDirect when the range
	// overlaps another route's range, or when a different port already
	// owns that exact range.
	ErrOverlappingRange = errors.New("rib: overlapping network range")

	// ErrRouteNotFound reports a missing route for a given range; no
	// function in this package returns it.
	ErrRouteNotFound = errors.New("rib: route not found")

	// ErrZoneNotFound reports a ZIB lookup of an unknown network range; no
	// function in this package returns it.
	ErrZoneNotFound = errors.New("rib: zone entry not found")
)
