package nbp

import (
	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Outbound is the Router's forwarding entry point for a FwdReq this
// service originates itself, mirroring pkg/rtmp.Outbound and
// pkg/zip.Responder's reply path.
type Outbound interface {
	RouteOut(dg *ddp.Datagram) error
}

// Responder is the reactive NBP service bound to socket 2 (Section 4.4).
// It never maintains a names directory of its own: a router only
// converts BrRq into LkUp/FwdReq and FwdReq back into LkUp, leaving name
// matching to the end nodes that answer LkUp.
type Responder struct {
	rt       *rib.Table
	zt       *rib.ZoneTable
	ports    *port.Set
	outbound Outbound
	log      logging.LeveledLogger
}

// NewResponder constructs a Responder bound to rt, zt, and ports.
func NewResponder(rt *rib.Table, zt *rib.ZoneTable, ports *port.Set, outbound Outbound, log logging.LeveledLogger) *Responder {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("nbp")
	}
	return &Responder{rt: rt, zt: zt, ports: ports, outbound: outbound, log: log}
}

// HandleInbound processes a datagram addressed to the NBP socket (Section
// 5: reactive services run on the ingress port's dispatch goroutine
// provided they don't block).
func (r *Responder) HandleInbound(dg *ddp.Datagram, ingress rib.PortID, _ link.Addr) {
	if dg.Type != ddpType || len(dg.Payload) == 0 {
		return
	}
	fn, t, ok := decodeRequest(dg.Payload)
	if !ok {
		return
	}

	switch fn {
	case ctrlBrRq:
		rxPort, ok := r.ports.Get(ingress)
		if !ok {
			return
		}
		r.handleBrRq(t, rxPort)
	case ctrlFwdReq:
		r.handleFwdReq(dg, t)
	// LkUp and LkUp-Reply are end-node traffic; the Router's ordinary
	// forwarding (Section 4.1) carries them as transit datagrams without
	// this service's involvement.
	default:
	}
}

func (r *Responder) handleBrRq(t Tuple, rxPort *port.Port) {
	zone := t.Zone
	if zone.Equal(zoneWildcard) {
		if rxPort.ExtendedNetwork() {
			// BrRqs from extended networks must name a zone (Section 4.4).
			return
		}
		if rng := rxPort.CurrentRange(); rng != (ddp.NetRange{}) {
			if e, ok := r.zt.Get(rng); ok && len(e.Zones) == 1 {
				zone = e.Zones[0]
			}
		}
	}

	out := t
	out.Zone = zone

	if zone.Equal(zoneWildcard) {
		r.broadcastLkUp(rxPort, out)
		return
	}

	for _, rng := range r.zt.NetworksForZone(zone) {
		route, ok := r.rt.Lookup(rng.Min)
		if !ok {
			continue
		}
		egress, ok := r.ports.Get(route.Port)
		if !ok {
			continue
		}
		if route.Direct() {
			r.broadcastLkUp(egress, out)
			continue
		}
		fwdreq := encodeRequest(ctrlFwdReq, out)
		dg := &ddp.Datagram{
			DestNetwork: rng.Min,
			DestSocket:  StaticSocket,
			SrcSocket:   StaticSocket,
			Type:        ddpType,
			Payload:     fwdreq,
		}
		if r.outbound != nil {
			if err := r.outbound.RouteOut(dg); err != nil {
				r.log.Debugf("nbp: FwdReq route failed: %v", err)
			}
		}
	}
}

func (r *Responder) handleFwdReq(dg *ddp.Datagram, t Tuple) {
	route, ok := r.rt.Lookup(dg.DestNetwork)
	if !ok || !route.Direct() {
		// FwdReq believes we're directly connected to this network but
		// we're not (Section 4.4).
		return
	}
	egress, ok := r.ports.Get(route.Port)
	if !ok {
		return
	}
	r.broadcastLkUp(egress, t)
}

func (r *Responder) broadcastLkUp(p *port.Port, t Tuple) {
	destNetwork := p.CurrentRange().Min
	if p.ExtendedNetwork() {
		destNetwork = 0
	}
	dg := &ddp.Datagram{
		DestNetwork: destNetwork,
		DestNode:    ddp.NodeBroadcast,
		DestSocket:  StaticSocket,
		SrcNetwork:  p.CurrentRange().Min,
		SrcNode:     p.Node(),
		SrcSocket:   StaticSocket,
		Type:        ddpType,
		Payload:     encodeRequest(ctrlLkUp, t),
	}
	if err := p.Broadcast(dg); err != nil {
		r.log.Debugf("nbp: LkUp broadcast failed: %v", err)
	}
}
