package router

import (
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// handleInbound is installed as every owned Port's Inbound callback
// (Section 4.7's inbound dispatch): decide whether dg is addressed to
// this router (deliver to the Service bound to its destination socket)
// or is transit traffic (forward per Section 4.1).
func (r *Router) handleInbound(dg *ddp.Datagram, ingress rib.PortID, src link.Addr) {
	ingressPort, ok := r.ports.Get(ingress)
	if !ok {
		return
	}
	ingressLocal := ddp.LocalNetwork{Range: ingressPort.CurrentRange(), OurNode: ingressPort.Node()}
	locals := r.localNetworks()

	var route rib.Route
	decision, nh := ddp.Decide(dg, ingressLocal, locals, func(n ddp.NetNum) ddp.NextHop {
		rt, ok := r.rt.Lookup(n)
		if !ok {
			return ddp.NextHop{}
		}
		route = rt
		return ddp.NextHop{Found: true, Direct: rt.Direct(), NextNetwork: rt.NextNetwork, NextNode: rt.NextNode}
	})

	switch decision {
	case ddp.Drop:
		return
	case ddp.DeliverLocal:
		r.sockets.Dispatch(dg, ingress, src)
	case ddp.DeliverLocalAndBroadcast:
		r.sockets.Dispatch(dg, ingress, src)
		r.reflood(dg, ingress)
	case ddp.ForwardDirect, ddp.ForwardViaNextHop:
		egress, ok := r.ports.Get(route.Port)
		if !ok || egress.State() != port.Online {
			return
		}
		hopped := dg.Hopped()
		destNode := dg.DestNode
		if decision == ddp.ForwardViaNextHop {
			destNode = nh.NextNode
		}
		if err := egress.Send(&hopped, destNode); err != nil {
			r.log.Debugf("router: forward to %s via %s failed: %v", route.Range, egress.ID(), err)
		}
	}
}

// reflood re-emits a broadcast datagram out every other Online port whose
// network matches the destination network (Section 8, boundary
// behaviors: DeliverLocalAndBroadcast).
func (r *Router) reflood(dg *ddp.Datagram, ingress rib.PortID) {
	hopped := dg.Hopped()
	for _, p := range r.ports.Online() {
		if p.ID() == ingress {
			continue
		}
		if !p.CurrentRange().Contains(dg.DestNetwork) {
			continue
		}
		if err := p.Broadcast(&hopped); err != nil {
			r.log.Debugf("router: reflood on %s failed: %v", p.ID(), err)
		}
	}
}

func (r *Router) localNetworks() []ddp.LocalNetwork {
	online := r.ports.Online()
	out := make([]ddp.LocalNetwork, 0, len(online))
	for _, p := range online {
		out = append(out, ddp.LocalNetwork{Range: p.CurrentRange(), OurNode: p.Node()})
	}
	return out
}

// handlePortStateChange is installed as every owned Port's StateChanged
// callback (Section 3, "Lifecycle": "Directly-connected routes are
// created when a Port reaches Online and removed when the Port leaves
// Online").
func (r *Router) handlePortStateChange(id rib.PortID, s port.State, fatal error) {
	switch s {
	case port.Online:
		p, ok := r.ports.Get(id)
		if !ok {
			return
		}
		if err := r.rt.InsertDirect(p.CurrentRange(), id, time.Now()); err != nil {
			r.log.Errorf("router: insert direct route for %s: %v", id, err)
			return
		}
		if seed := r.seeds[id]; seed != nil && len(seed.Zones) > 0 {
			r.zt.Set(p.CurrentRange(), seed.Zones, seed.DefaultZone)
		}
		r.log.Infof("router: port %s online on %v", id, p.CurrentRange())
	case port.Stopped:
		for _, route := range r.rt.WithdrawPort(id) {
			r.zt.Remove(route.Range)
		}
		if fatal != nil {
			r.log.Errorf("router: port %s stopped: %v", id, fatal)
		} else {
			r.log.Infof("router: port %s stopped", id)
		}
	}
}
