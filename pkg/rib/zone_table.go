package rib

import (
	"sync"

	"github.com/tashrouter/tashrouter/pkg/ddp"
)

// ZoneEntry is one entry of the zone information base, keyed by the same
// network range a RIB route uses (Section 3).
type ZoneEntry struct {
	Range   ddp.NetRange
	Zones   []Name
	Default Name
}

// ZoneTable is the zone information base (ZIB). It shares the RIB's
// single reader-writer discipline (Section 5): any number of concurrent
// reads, serialized writes.
type ZoneTable struct {
	mu      sync.RWMutex
	byRange map[ddp.NetRange]*ZoneEntry
}

// NewZoneTable returns an empty zone table.
func NewZoneTable() *ZoneTable {
	return &ZoneTable{byRange: make(map[ddp.NetRange]*ZoneEntry)}
}

// Set installs or replaces the zone set for a network range, as driven by
// a ZIP reply or a directly-connected port's seeded/learned zone list
// (Section 3, "Lifecycle"). def must be one of zones (or empty if zones is
// a single-element list, in which case that element is the default).
func (z *ZoneTable) Set(rng ddp.NetRange, zones []Name, def Name) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if len(def) == 0 && len(zones) == 1 {
		def = zones[0]
	}
	cp := make([]Name, len(zones))
	copy(cp, zones)
	z.byRange[rng] = &ZoneEntry{Range: rng, Zones: cp, Default: def}
}

// Get returns the zone entry for an exact network range.
func (z *ZoneTable) Get(rng ddp.NetRange) (ZoneEntry, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	e, ok := z.byRange[rng]
	if !ok {
		return ZoneEntry{}, false
	}
	return *e, true
}

// ZonesForNetwork returns the zone entry whose range contains n, the way a
// GetNetInfo reply is built (Section 4.3).
func (z *ZoneTable) ZonesForNetwork(n ddp.NetNum) (ZoneEntry, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	for rng, e := range z.byRange {
		if rng.Contains(n) {
			return *e, true
		}
	}
	return ZoneEntry{}, false
}

// Remove deletes the zone entry for rng, called when the last route
// reaching that range is removed from the RIB (Section 3, "Lifecycle":
// "Zones associated with a network disappear when every route reaching
// that network is removed").
func (z *ZoneTable) Remove(rng ddp.NetRange) {
	z.mu.Lock()
	defer z.mu.Unlock()
	delete(z.byRange, rng)
}

// NetworksForZone returns every network range associated with the named
// zone, used by NBP to pick a router serving a remote zone (Section 4.4).
func (z *ZoneTable) NetworksForZone(name Name) []ddp.NetRange {
	z.mu.RLock()
	defer z.mu.RUnlock()
	var out []ddp.NetRange
	for rng, e := range z.byRange {
		for _, zn := range e.Zones {
			if zn.Equal(name) {
				out = append(out, rng)
				break
			}
		}
	}
	return out
}

// AllZones returns the union of every zone name known to the table
// (Section 4.3, GetZoneList), deduplicated under AppleTalk case folding.
func (z *ZoneTable) AllZones() []Name {
	z.mu.RLock()
	defer z.mu.RUnlock()
	seen := make(map[string]Name)
	for _, e := range z.byRange {
		for _, zn := range e.Zones {
			seen[string(Ucase(zn))] = zn
		}
	}
	out := make([]Name, 0, len(seen))
	for _, zn := range seen {
		out = append(out, zn)
	}
	return out
}

// Missing returns every range present in routes that has no zone entry
// yet, used by the ZIP sender to decide what to query for (Section 4.3).
func (z *ZoneTable) Missing(ranges []ddp.NetRange) []ddp.NetRange {
	z.mu.RLock()
	defer z.mu.RUnlock()
	var out []ddp.NetRange
	for _, rng := range ranges {
		if _, ok := z.byRange[rng]; !ok {
			out = append(out, rng)
		}
	}
	return out
}
