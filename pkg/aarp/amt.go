// Package aarp implements the AppleTalk Address Resolution Protocol
// mapping table used by Ethernet-backed ports (Section 4.6): a
// (network, node) -> 48-bit MAC address cache populated by observed
// traffic and probe responses, with entries expiring after 30 seconds of
// no use.
package aarp

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/tashrouter/tashrouter/pkg/ddp"
)

// MappingTTL is how long an AMT entry survives without being refreshed by
// observed traffic or a fresh probe response (Section 4.6).
const MappingTTL = 30 * time.Second

// MAC is a 48-bit Ethernet hardware address.
type MAC [6]byte

// Key identifies an AARP mapping: a node on a specific network.
type Key struct {
	Network ddp.NetNum
	Node    ddp.Node
}

// Table is the per-port AARP mapping table (AMT). It is owned by exactly
// one port (Section 5): only that port's goroutines read or write it.
type Table struct {
	cache *ttlcache.Cache[Key, MAC]
}

// New returns an empty AMT whose entries expire after MappingTTL of
// disuse. Every successful Lookup counts as use and refreshes the TTL,
// which the teacher's analogous caches disable for dedup tables but we
// want here since the invariant in Section 8 is "used within 30 seconds",
// not "inserted within 30 seconds".
func New() *Table {
	c := ttlcache.New[Key, MAC](
		ttlcache.WithTTL[Key, MAC](MappingTTL),
	)
	go c.Start()
	return &Table{cache: c}
}

// Close stops the table's background eviction goroutine.
func (t *Table) Close() {
	t.cache.Stop()
}

// Observe records (or refreshes) the mapping learned from traffic or a
// probe response.
func (t *Table) Observe(network ddp.NetNum, node ddp.Node, mac MAC) {
	t.cache.Set(Key{Network: network, Node: node}, mac, ttlcache.DefaultTTL)
}

// Lookup returns the MAC address mapped to (network, node), if a live
// entry exists.
func (t *Table) Lookup(network ddp.NetNum, node ddp.Node) (MAC, bool) {
	item := t.cache.Get(Key{Network: network, Node: node})
	if item == nil {
		return MAC{}, false
	}
	return item.Value(), true
}

// Len returns the number of live entries, for tests and diagnostics.
func (t *Table) Len() int {
	return t.cache.Len()
}
