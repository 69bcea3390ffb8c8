package rib

import (
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
)

// PortID identifies the port a route egresses through. The RIB treats it
// as an opaque comparable value; pkg/port and pkg/router supply the real
// identifiers.
type PortID string

// State is a route's position in the ageing state machine (Section 4.2).
type State int

const (
	// Good is a route that has been refreshed within the last 20 seconds
	// (or is directly connected, and therefore never ages).
	Good State = iota
	// Suspect is a route with no refresh for 20-40 seconds.
	Suspect
	// Bad is a route with no refresh for 40-60 seconds.
	Bad
	// ZombieForNotifications is a route with no refresh for 60-80 seconds.
	// Its distance is forced to Unreachable and it is still included in
	// outbound RTMP advertisements so neighbors learn it is gone.
	ZombieForNotifications
)

func (s State) String() string {
	switch s {
	case Good:
		return "good"
	case Suspect:
		return "suspect"
	case Bad:
		return "bad"
	case ZombieForNotifications:
		return "zombie"
	default:
		return "unknown"
	}
}

// Unreachable is the distance RTMP uses to mean "no longer reachable"
// (Section 4.2: a candidate distance greater than 15, or a zombie route).
const Unreachable = 16

// Route is one entry of the routing information base, uniquely keyed by
// Range (Section 3).
type Route struct {
	Range       ddp.NetRange
	Distance    uint8
	NextNetwork ddp.NetNum // 0 together with NextNode==0 means directly connected
	NextNode    ddp.Node
	Port        PortID
	State       State

	// LastRefreshed is the timestamp of the last valid refresh (a matching
	// RTMP advertisement, or route creation). Ageing is computed from the
	// elapsed time since this timestamp (Section 9, Design Notes) rather
	// than by a thread that mutates state on every packet.
	LastRefreshed time.Time
}

// Direct reports whether the route is directly connected (Section 3).
func (r *Route) Direct() bool {
	return r.NextNetwork == 0 && r.NextNode == 0
}

// effectiveDistance returns the distance a reader should treat this route
// as having, forcing Unreachable while the route is a zombie regardless of
// what Distance currently holds.
func (r *Route) effectiveDistance() uint8 {
	if r.State == ZombieForNotifications {
		return Unreachable
	}
	return r.Distance
}
