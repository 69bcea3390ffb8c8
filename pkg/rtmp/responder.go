package rtmp

import (
	"time"

	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Outbound is the Router's forwarding entry point for datagrams a
// Service originates itself (Section 4.7's route_out), used here to
// return a Route Data Request reply that may need more than one hop.
type Outbound interface {
	RouteOut(dg *ddp.Datagram) error
}

// Responder is the reactive RTMP service bound to socket 1 (Section
// 4.2). It mutates the RIB on received data packets and answers
// RTMP Request / Route Data Request.
type Responder struct {
	rt       *rib.Table
	ports    *port.Set
	outbound Outbound
	log      logging.LeveledLogger
	now      func() time.Time
}

// NewResponder constructs a Responder bound to rt and ports.
func NewResponder(rt *rib.Table, ports *port.Set, outbound Outbound, log logging.LeveledLogger) *Responder {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("rtmp")
	}
	return &Responder{rt: rt, ports: ports, outbound: outbound, log: log, now: time.Now}
}

// HandleInbound processes a datagram addressed to the RTMP socket
// (Section 5: reactive services may run on the ingress port's dispatch
// goroutine provided they don't block; this one only touches the
// mutex-guarded RIB).
func (r *Responder) HandleInbound(dg *ddp.Datagram, ingress rib.PortID, _ link.Addr) {
	rxPort, ok := r.ports.Get(ingress)
	if !ok {
		return
	}

	switch dg.Type {
	case ddpTypeData:
		r.handleData(dg, rxPort)
	case ddpTypeRequest:
		if len(dg.Payload) == 0 {
			return
		}
		switch dg.Payload[0] {
		case funcRequest:
			r.handleRequest(dg, rxPort)
		case funcRDRSplitHorizon:
			r.handleRouteDataRequest(dg, rxPort, true)
		case funcRDRNoSplitHorizon:
			r.handleRouteDataRequest(dg, rxPort, false)
		}
	}
}

func (r *Responder) handleData(dg *ddp.Datagram, rxPort *port.Port) {
	h, rest, ok := decodeHeader(dg.Payload, rxPort.ExtendedNetwork())
	if !ok {
		return
	}
	tuples, ok := decodeTuples(rest)
	if !ok {
		return
	}
	if h.OwnTuple != nil {
		tuples = append([]tuple{*h.OwnTuple}, tuples...)
	}

	now := r.now()
	for _, t := range tuples {
		candidate := uint16(t.Distance) + 1
		cd := uint8(candidate)
		if candidate > 15 {
			cd = rib.Unreachable
		}
		r.rt.ReceiveAdvertisement(t.Range, cd, h.SenderNetwork, h.SenderNode, rxPort.ID(), now)
	}
}

func (r *Responder) handleRequest(dg *ddp.Datagram, rxPort *port.Port) {
	if dg.HopCount != 0 {
		return
	}
	rng := rxPort.CurrentRange()
	if rng == (ddp.NetRange{}) {
		return
	}
	reply := encodeRequestResponse(rxPort)
	r.reply(dg, rxPort, reply)
}

func (r *Responder) handleRouteDataRequest(dg *ddp.Datagram, rxPort *port.Port, splitHorizon bool) {
	for _, payload := range BuildDataPayloads(r.rt, rxPort, splitHorizon) {
		out := &ddp.Datagram{
			DestNetwork: dg.SrcNetwork,
			DestNode:    dg.SrcNode,
			DestSocket:  dg.SrcSocket,
			SrcNetwork:  rxPort.CurrentRange().Min,
			SrcNode:     rxPort.Node(),
			SrcSocket:   dg.DestSocket,
			Type:        ddpTypeData,
			Payload:     payload,
		}
		if r.outbound != nil {
			_ = r.outbound.RouteOut(out)
		}
	}
}

func (r *Responder) reply(dg *ddp.Datagram, rxPort *port.Port, payload []byte) {
	out := &ddp.Datagram{
		DestNetwork: dg.SrcNetwork,
		DestNode:    dg.SrcNode,
		DestSocket:  dg.SrcSocket,
		SrcNetwork:  rxPort.CurrentRange().Min,
		SrcNode:     rxPort.Node(),
		SrcSocket:   dg.DestSocket,
		Type:        ddpTypeData,
		Payload:     payload,
	}
	if err := rxPort.Send(out, dg.SrcNode); err != nil {
		r.log.Debugf("rtmp: reply send failed: %v", err)
	}
}
