package rib

import (
	"sync"
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
)

// Ageing intervals (Section 4.2). Each is a further 20 seconds past the
// last, reaching 80 seconds (removal) in total.
const (
	SuspectAfter = 20 * time.Second
	BadAfter     = 40 * time.Second
	ZombieAfter  = 60 * time.Second
	RemoveAfter  = 80 * time.Second
)

// Table is the routing information base. It is safe for concurrent use:
// any number of concurrent Lookups, but writes (InsertDirect,
// ReceiveAdvertisement, WithdrawPort, Age) are
// serialized, matching the single reader-writer discipline of Section 5.
type Table struct {
	mu     sync.RWMutex
	routes map[ddp.NetRange]*Route
}

// New returns an empty routing table.
func New() *Table {
	return &Table{routes: make(map[ddp.NetRange]*Route)}
}

// Lookup returns the route whose range contains n, if any. It is a reader
// under the table's concurrency discipline.
func (t *Table) Lookup(n ddp.NetNum) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if r.Range.Contains(n) {
			cp := *r
			cp.Distance = cp.effectiveDistance()
			return cp, true
		}
	}
	return Route{}, false
}

// All returns a snapshot of every route currently in the table.
func (t *Table) All() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		cp := *r
		cp.Distance = cp.effectiveDistance()
		out = append(out, cp)
	}
	return out
}

// overlapsOtherLocked reports whether rng overlaps any range in the table
// other than itself. Caller must hold t.mu.
func (t *Table) overlapsOtherLocked(rng ddp.NetRange) bool {
	for existing := range t.routes {
		if existing == rng {
			continue
		}
		if existing.Overlaps(rng) {
			return true
		}
	}
	return false
}

// InsertDirect installs (or replaces) the directly-connected route for a
// port that has just reached Online (Section 3, "Lifecycle"). A direct
// route always has Distance 0 and State Good, and never ages.
func (t *Table) InsertDirect(rng ddp.NetRange, port PortID, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.routes[rng]; !ok && t.overlapsOtherLocked(rng) {
		return ErrOverlappingRange
	} else if ok && existing.Port != port {
		// a different port already owns this exact range
		return ErrOverlappingRange
	}
	t.routes[rng] = &Route{
		Range:         rng,
		Distance:      0,
		Port:          port,
		State:         Good,
		LastRefreshed: now,
	}
	return nil
}

// WithdrawPort removes every route (direct or learned) egressing through
// port, called when that port leaves Online (Section 3, "Lifecycle").
func (t *Table) WithdrawPort(port PortID) []Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	var withdrawn []Route
	for rng, r := range t.routes {
		if r.Port == port {
			withdrawn = append(withdrawn, *r)
			delete(t.routes, rng)
		}
	}
	return withdrawn
}

// ReceiveAdvertisement applies one tuple of an incoming RTMP data packet
// (Section 4.2, "Reception"). candidateDistance is already the neighbor's
// advertised distance plus one. It returns the resulting route and whether
// the table was modified.
func (t *Table) ReceiveAdvertisement(rng ddp.NetRange, candidateDistance uint8, neighborNetwork ddp.NetNum, neighborNode ddp.Node, port PortID, now time.Time) (Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if candidateDistance > 15 {
		candidateDistance = Unreachable
	}

	existing, ok := t.routes[rng]
	if !ok {
		if t.overlapsOtherLocked(rng) {
			// A strictly-better replacement can supersede an overlapping
			// entry, but a brand new overlapping range with no existing
			// entry of its own is refused outright.
			return Route{}, false
		}
		r := &Route{
			Range:         rng,
			Distance:      candidateDistance,
			NextNetwork:   neighborNetwork,
			NextNode:      neighborNode,
			Port:          port,
			State:         Good,
			LastRefreshed: now,
		}
		t.routes[rng] = r
		return *r, true
	}

	sameNeighbor := existing.NextNetwork == neighborNetwork && existing.NextNode == neighborNode && existing.Port == port
	switch {
	case sameNeighbor:
		existing.Distance = candidateDistance
		existing.State = Good
		existing.LastRefreshed = now
		return *existing, true
	case candidateDistance < existing.Distance:
		// Strictly better: supersede atomically.
		existing.Distance = candidateDistance
		existing.NextNetwork = neighborNetwork
		existing.NextNode = neighborNode
		existing.Port = port
		existing.State = Good
		existing.LastRefreshed = now
		return *existing, true
	default:
		// Equal or worse distance via a different neighbor: keep existing,
		// don't flap.
		return *existing, false
	}
}

// AgeingTransition records one route's state change as reported by Age.
type AgeingTransition struct {
	Route   Route
	Removed bool
}

// Age sweeps every non-directly-connected route and advances its ageing
// state based on elapsed time since LastRefreshed (Section 4.2, Section 9
// "Design Notes": ageing is driven by absolute timestamps so the ager can
// be a simple periodic sweeper). It returns every route whose state
// changed or that was removed.
func (t *Table) Age(now time.Time) []AgeingTransition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var transitions []AgeingTransition
	for rng, r := range t.routes {
		if r.Direct() {
			continue
		}
		elapsed := now.Sub(r.LastRefreshed)
		var next State
		switch {
		case elapsed >= RemoveAfter:
			delete(t.routes, rng)
			transitions = append(transitions, AgeingTransition{Route: *r, Removed: true})
			continue
		case elapsed >= ZombieAfter:
			next = ZombieForNotifications
		case elapsed >= BadAfter:
			next = Bad
		case elapsed >= SuspectAfter:
			next = Suspect
		default:
			next = Good
		}
		if next != r.State {
			r.State = next
			transitions = append(transitions, AgeingTransition{Route: *r})
		}
	}
	return transitions
}
