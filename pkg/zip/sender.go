package zip

import (
	"context"
	"time"

	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Sender periodically queries neighbors for the zones of every RIB route
// the Zone Information Base doesn't yet cover (Section 4.3).
type Sender struct {
	rt    *rib.Table
	zt    *rib.ZoneTable
	ports *port.Set
	log   logging.LeveledLogger
	out   *QueryTracker
}

// NewSender constructs a Sender bound to rt and zt. out is shared with the
// Responder that will clear its marks when replies arrive.
func NewSender(rt *rib.Table, zt *rib.ZoneTable, ports *port.Set, out *QueryTracker, log logging.LeveledLogger) *Sender {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("zip")
	}
	return &Sender{rt: rt, zt: zt, ports: ports, out: out, log: log}
}

// Run blocks, sweeping every SendInterval until ctx is cancelled (Section
// 5: periodic services block on a timed wait awoken early by stop()).
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(SendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// query is one (egress port, next hop) group of networks to ask about.
// Packets are batched by next hop for efficiency, but each network's
// outstanding-query mark (and therefore its rate limit) is tracked
// individually per (next_hop, range) as Section 4.3 specifies.
type query struct {
	egress *port.Port
	next   ddp.Node
	nets   []ddp.NetNum
}

type groupKey struct {
	port rib.PortID
	next ddp.Node
}

func (s *Sender) sweep() {
	missing := s.zt.Missing(rangesOf(s.rt.All()))
	if len(missing) == 0 {
		return
	}

	groups := make(map[groupKey]*query)
	var order []groupKey
	for _, route := range s.rt.All() {
		if !containsRange(missing, route.Range) {
			continue
		}
		p, ok := s.ports.Get(route.Port)
		if !ok || p.State() != port.Online {
			continue
		}
		next := route.NextNode
		if route.Direct() {
			// A directly-connected route has no next hop of its own; ask the
			// whole network by broadcasting on its own port (Section 4.3).
			next = ddp.NodeBroadcast
		}
		if !s.out.tryMark(outstandingKey{Port: p.ID(), Next: next, Range: route.Range}) {
			continue
		}
		gk := groupKey{port: p.ID(), next: next}
		g, ok := groups[gk]
		if !ok {
			g = &query{egress: p, next: next}
			groups[gk] = g
			order = append(order, gk)
		}
		g.nets = append(g.nets, route.Range.Min)
	}

	for _, gk := range order {
		s.sendQuery(groups[gk])
	}
}

func (s *Sender) sendQuery(g *query) {
	const maxPerPacket = (ddp.MaxPayloadSize - 2) / 2
	for start := 0; start < len(g.nets); start += maxPerPacket {
		end := start + maxPerPacket
		if end > len(g.nets) {
			end = len(g.nets)
		}
		payload := encodeQuery(g.nets[start:end])
		dg := &ddp.Datagram{
			DestNetwork: g.egress.CurrentRange().Min,
			DestNode:    g.next,
			DestSocket:  StaticSocket,
			SrcNetwork:  g.egress.CurrentRange().Min,
			SrcNode:     g.egress.Node(),
			SrcSocket:   StaticSocket,
			Type:        ddpType,
			Payload:     payload,
		}
		var err error
		if g.next == ddp.NodeBroadcast {
			err = g.egress.Broadcast(dg)
		} else {
			err = g.egress.Send(dg, g.next)
		}
		if err != nil {
			s.log.Debugf("zip: query send failed: %v", err)
		}
	}
}

func rangesOf(routes []rib.Route) []ddp.NetRange {
	out := make([]ddp.NetRange, len(routes))
	for i, r := range routes {
		out[i] = r.Range
	}
	return out
}

func containsRange(ranges []ddp.NetRange, rng ddp.NetRange) bool {
	for _, r := range ranges {
		if r == rng {
			return true
		}
	}
	return false
}
