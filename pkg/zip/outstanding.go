package zip

import (
	"github.com/jellydator/ttlcache/v3"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// outstandingKey identifies one in-flight ZIP Query: the next hop it was
// sent to and the range it asked about (Section 4.3: "no more than one
// outstanding query per (next_hop, range)").
type outstandingKey struct {
	Port  rib.PortID
	Next  ddp.Node
	Range ddp.NetRange
}

// QueryTracker tracks in-flight ZIP queries so Sender doesn't re-ask a
// neighbor before QueryTimeout elapses, and Responder can clear the mark
// early once a reply lands (Section 4.3). Shared between the two so a
// reply short-circuits the rate limit instead of waiting out the timeout.
// Mirrors the ttlcache idiom pkg/aarp uses for its mapping table.
type QueryTracker struct {
	cache *ttlcache.Cache[outstandingKey, struct{}]
}

// NewQueryTracker returns an empty tracker. Callers must Close it when the
// router stops.
func NewQueryTracker() *QueryTracker {
	c := ttlcache.New[outstandingKey, struct{}](
		ttlcache.WithTTL[outstandingKey, struct{}](QueryTimeout),
		ttlcache.WithDisableTouchOnHit[outstandingKey, struct{}](),
	)
	go c.Start()
	return &QueryTracker{cache: c}
}

// Close stops the tracker's background eviction goroutine.
func (o *QueryTracker) Close() {
	o.cache.Stop()
}

// tryMark reports whether a query for key may be sent now, and if so
// marks it outstanding until QueryTimeout or clear.
func (o *QueryTracker) tryMark(key outstandingKey) bool {
	if o.cache.Get(key) != nil {
		return false
	}
	o.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true
}

// clear removes key's outstanding mark once a reply arrives, so a
// follow-up query isn't needlessly rate-limited.
func (o *QueryTracker) clear(key outstandingKey) {
	o.cache.Delete(key)
}
