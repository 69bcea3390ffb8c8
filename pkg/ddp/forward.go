package ddp

// Decision is the outcome of a forwarding decision for a fully-decoded
// long-form datagram (Section 4.1).
type Decision int

const (
	// Drop means the datagram should be discarded with no further action.
	Drop Decision = iota
	// DeliverLocal means the datagram is addressed to this router on the
	// network it arrived on (or another online network) and should be
	// handed to inbound dispatch.
	DeliverLocal
	// DeliverLocalAndBroadcast means the datagram's destination node is
	// 255 and its hop count is still below MaxHopCount: deliver it
	// locally AND re-emit it out every other Online port whose network
	// matches the destination network (Section 8, boundary behaviors).
	// A broadcast that has already reached MaxHopCount is delivered
	// locally only (DeliverLocal), never re-flooded.
	DeliverLocalAndBroadcast
	// ForwardDirect means the destination network is directly connected;
	// re-emit the (hop-incremented) datagram addressed to (DestNetwork,
	// DestNode) on the resolved egress port.
	ForwardDirect
	// ForwardViaNextHop means the destination network is reached through a
	// neighboring router; re-emit the (hop-incremented) datagram addressed
	// to the next hop on the resolved egress port.
	ForwardViaNextHop
)

func (d Decision) String() string {
	switch d {
	case Drop:
		return "drop"
	case DeliverLocal:
		return "deliver-local"
	case DeliverLocalAndBroadcast:
		return "deliver-local-and-broadcast"
	case ForwardDirect:
		return "forward-direct"
	case ForwardViaNextHop:
		return "forward-via-next-hop"
	default:
		return "unknown"
	}
}

// LocalNetwork describes one of the router's own Online networks, as seen
// by the forwarding engine: the range it covers and the router's own node
// number on it.
type LocalNetwork struct {
	Range   NetRange
	OurNode Node
}

// NextHop describes how outbound dispatch should reach a network that is
// not directly connected, as resolved from the routing table. Found is
// false when no route exists.
type NextHop struct {
	Found       bool
	Direct      bool // next_network==0 && next_node==0: directly connected
	NextNetwork NetNum
	NextNode    Node
}

// Decide implements the forwarding algorithm of Section 4.1 for a decoded
// long-form datagram. ingress is the local network of the port the
// datagram arrived on (used to recognize, and silently drop, traffic
// already delivered at the link layer that isn't addressed to us); locals
// lists every Online port's current network, including ingress; lookup
// resolves a destination network against the routing table.
//
// Short-form datagrams are never routed (Section 4.1) and must not be
// passed to Decide; they are handled entirely by the receiving port.
func Decide(dg *Datagram, ingress LocalNetwork, locals []LocalNetwork, lookup func(NetNum) NextHop) (Decision, NextHop) {
	for _, ln := range locals {
		if !ln.Range.Contains(dg.DestNetwork) {
			continue
		}
		if dg.DestNode == NodeBroadcast {
			if dg.HopCount < MaxHopCount {
				return DeliverLocalAndBroadcast, NextHop{}
			}
			return DeliverLocal, NextHop{}
		}
		if dg.DestNode == ln.OurNode {
			return DeliverLocal, NextHop{}
		}
	}

	if ingress.Range.Contains(dg.DestNetwork) {
		// Already on this segment and not addressed to us: the shared
		// medium already delivered it (or didn't). Nothing to forward.
		return Drop, NextHop{}
	}

	if dg.HopCount >= MaxHopCount {
		return Drop, NextHop{}
	}

	nh := lookup(dg.DestNetwork)
	if !nh.Found {
		return Drop, NextHop{}
	}
	if nh.Direct {
		return ForwardDirect, nh
	}
	return ForwardViaNextHop, nh
}
