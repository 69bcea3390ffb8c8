package zip

import (
	"sync"

	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Responder is the reactive ZIP service bound to socket 6 (Section 4.3).
// It answers Query/GetNetInfo/GetZoneList/GetLocalZones/GetMyZone against
// the Zone Information Base, and absorbs Reply/Extended Reply packets
// produced by Sender's queries.
type Responder struct {
	rt    *rib.Table
	zt    *rib.ZoneTable
	ports *port.Set
	log   logging.LeveledLogger
	out   *QueryTracker // shared with Sender, cleared here once a reply lands

	mu      sync.Mutex
	pending map[ddp.NetNum]map[string]rib.Name // accumulating Extended Reply, keyed by network_min
}

// NewResponder constructs a Responder bound to rt and zt. out is the same
// outstanding-query tracker given to Sender, so a reply clears the rate
// limit immediately rather than waiting for QueryTimeout (Section 4.3).
func NewResponder(rt *rib.Table, zt *rib.ZoneTable, ports *port.Set, out *QueryTracker, log logging.LeveledLogger) *Responder {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("zip")
	}
	return &Responder{rt: rt, zt: zt, ports: ports, out: out, log: log, pending: make(map[ddp.NetNum]map[string]rib.Name)}
}

// HandleInbound processes a datagram addressed to the ZIP socket (Section
// 5: reactive services run on the ingress port's dispatch goroutine
// provided they don't block).
func (r *Responder) HandleInbound(dg *ddp.Datagram, ingress rib.PortID, _ link.Addr) {
	rxPort, ok := r.ports.Get(ingress)
	if !ok || dg.Type != ddpType || len(dg.Payload) == 0 {
		return
	}

	switch dg.Payload[0] {
	case funcReply, funcExtReply:
		r.handleReply(dg.Payload)
	case funcQuery:
		r.handleQuery(dg, rxPort)
	case funcGetNetInfoReq:
		r.handleGetNetInfo(dg, rxPort)
	case funcGetMyZone:
		r.handleGetMyZone(dg, rxPort)
	case funcGetZoneList:
		r.handleZoneList(dg, rxPort, false)
	case funcGetLocalZones:
		r.handleZoneList(dg, rxPort, true)
	}
}

func (r *Responder) handleReply(payload []byte) {
	fn, count, pairs, ok := decodeReply(payload)
	if !ok {
		return
	}

	netMax := make(map[ddp.NetNum]ddp.NetNum)
	for _, route := range r.rt.All() {
		netMax[route.Range.Min] = route.Range.Max
	}

	addZone := func(netMin ddp.NetNum, zone rib.Name) {
		max, ok := netMax[netMin]
		if !ok {
			r.log.Warnf("zip: reply refers to unfamiliar network %d", netMin)
			return
		}
		rng := ddp.NetRange{Min: netMin, Max: max}
		e, _ := r.zt.Get(rng)
		zones := append(append([]rib.Name(nil), e.Zones...), zone)
		r.zt.Set(rng, zones, e.Default)
		if r.out != nil {
			if route, ok := r.rt.Lookup(netMin); ok {
				next := route.NextNode
				if route.Direct() {
					next = ddp.NodeBroadcast
				}
				r.out.clear(outstandingKey{Port: route.Port, Next: next, Range: route.Range})
			}
		}
	}

	if fn == funcReply {
		for _, p := range pairs {
			addZone(p.NetworkMin, p.Zone)
		}
		return
	}

	// Extended Reply: accumulate by network_min until count zone names have
	// arrived, then flush (Section 4.3: "includes a count of total zones for
	// the network so the querier can recognize completeness").
	r.mu.Lock()
	defer r.mu.Unlock()
	var lastNet ddp.NetNum
	for _, p := range pairs {
		lastNet = p.NetworkMin
		set, ok := r.pending[p.NetworkMin]
		if !ok {
			set = make(map[string]rib.Name)
			r.pending[p.NetworkMin] = set
		}
		set[string(rib.Ucase(p.Zone))] = p.Zone
	}
	if count >= 1 && len(r.pending[lastNet]) >= int(count) {
		set := r.pending[lastNet]
		delete(r.pending, lastNet)
		for _, zone := range set {
			addZone(lastNet, zone)
		}
	}
}

func (r *Responder) handleQuery(dg *ddp.Datagram, rxPort *port.Port) {
	nets, ok := decodeQuery(dg.Payload)
	if !ok {
		return
	}
	// ATIR always answers with Extended Reply even when a plain Reply would
	// fit, and issues one list per requested network even if two requested
	// networks share a range (Section 4.3's own wording just asks for
	// packing as many pairs as fit; we follow ATIR's simpler one-list-per-
	// network convention since it is what the wire format already implies).
	for _, n := range nets {
		e, ok := r.zt.ZonesForNetwork(n)
		if !ok {
			continue
		}
		var cur []byte
		flush := func() {
			if cur != nil {
				r.reply(dg, rxPort, cur)
			}
		}
		head := func() []byte { return []byte{funcExtReply, byte(len(e.Zones))} }
		cur = head()
		for _, zn := range e.Zones {
			item := encodeZonePair(n, zn)
			if len(cur)+len(item) > ddp.MaxPayloadSize-2 {
				flush()
				cur = head()
			}
			cur = append(cur, item...)
		}
		flush()
	}
}

func (r *Responder) handleGetNetInfo(dg *ddp.Datagram, rxPort *port.Port) {
	rng := rxPort.CurrentRange()
	if rng == (ddp.NetRange{}) {
		return
	}
	req, ok := decodeGetNetInfo(dg.Payload)
	if !ok {
		return
	}
	e, ok := r.zt.Get(rng)
	if !ok || len(e.Zones) == 0 {
		return
	}

	given := rib.Ucase(req.Zone)
	flags := byte(flagZoneInvalid | flagOnlyOneZone)
	if len(e.Zones) > 1 {
		flags &^= flagOnlyOneZone
	}
	for _, zn := range e.Zones {
		if rib.Ucase(zn).Equal(given) {
			flags &^= flagZoneInvalid
			break
		}
	}
	// A zone's multicast address depends on the link layer (the EtherTalk
	// one is computed by ethertalk.MulticastAddr). This responder has no
	// link binding, so it always sets USE_BROADCAST and sends an empty
	// multicast address.
	flags |= flagUseBroadcast

	reply := encodeGetNetInfoReply(netInfoReply{
		Flags:       flags,
		Range:       rng,
		GivenZone:   req.Zone,
		DefaultZone: e.Default,
	})
	r.reply(dg, rxPort, reply)
}

func (r *Responder) handleGetMyZone(dg *ddp.Datagram, rxPort *port.Port) {
	route, ok := r.rt.Lookup(dg.SrcNetwork)
	if !ok {
		return
	}
	e, ok := r.zt.Get(route.Range)
	if !ok || len(e.Default) == 0 {
		return
	}
	r.reply(dg, rxPort, encodeZoneListReply(funcGetMyZone, []rib.Name{e.Default}, true))
}

func (r *Responder) handleZoneList(dg *ddp.Datagram, rxPort *port.Port, local bool) {
	startIndex, ok := decodeZoneListRequest(dg.Payload)
	if !ok {
		return
	}

	var zones []rib.Name
	if local {
		e, ok := r.zt.Get(rxPort.CurrentRange())
		if !ok {
			return
		}
		zones = e.Zones
	} else {
		zones = r.zt.AllZones()
	}

	skip := int(startIndex) - 1
	if skip < 0 {
		skip = 0
	}
	if skip > len(zones) {
		skip = len(zones)
	}
	zones = zones[skip:]

	var page []rib.Name
	dataLen := 4
	last := true
	for _, z := range zones {
		if dataLen+1+len(z) > ddp.MaxPayloadSize {
			last = false
			break
		}
		page = append(page, z)
		dataLen += 1 + len(z)
	}

	fn := byte(funcGetZoneList)
	if local {
		fn = funcGetLocalZones
	}
	r.reply(dg, rxPort, encodeZoneListReply(fn, page, last))
}

func (r *Responder) reply(dg *ddp.Datagram, rxPort *port.Port, payload []byte) {
	out := &ddp.Datagram{
		DestNetwork: dg.SrcNetwork,
		DestNode:    dg.SrcNode,
		DestSocket:  dg.SrcSocket,
		SrcNetwork:  rxPort.CurrentRange().Min,
		SrcNode:     rxPort.Node(),
		SrcSocket:   dg.DestSocket,
		Type:        ddpType,
		Payload:     payload,
	}
	if err := rxPort.Send(out, dg.SrcNode); err != nil {
		r.log.Debugf("zip: reply send failed: %v", err)
	}
}
