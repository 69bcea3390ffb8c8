// Package echo implements the AppleTalk Echo Protocol (AEP) reactive
// service bound to socket 4 (Section 4.5): on an Echo Request it replies
// with an Echo Reply carrying the same payload tail, addresses swapped.
package echo

import (
	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// StaticSocket is the Echo socket number.
const StaticSocket = 4

// ddpType marks every Echo packet.
const ddpType = 4

const (
	funcRequest = 1
	funcReply   = 2
)

// Responder answers Echo Requests (Section 4.5).
type Responder struct {
	ports *port.Set
	log   logging.LeveledLogger
}

// NewResponder constructs a Responder bound to ports.
func NewResponder(ports *port.Set, log logging.LeveledLogger) *Responder {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("echo")
	}
	return &Responder{ports: ports, log: log}
}

// HandleInbound processes a datagram addressed to the Echo socket.
func (r *Responder) HandleInbound(dg *ddp.Datagram, ingress rib.PortID, _ link.Addr) {
	if dg.Type != ddpType || len(dg.Payload) == 0 || dg.Payload[0] != funcRequest {
		return
	}
	rxPort, ok := r.ports.Get(ingress)
	if !ok {
		return
	}

	reply := make([]byte, len(dg.Payload))
	reply[0] = funcReply
	copy(reply[1:], dg.Payload[1:])

	out := &ddp.Datagram{
		DestNetwork: dg.SrcNetwork,
		DestNode:    dg.SrcNode,
		DestSocket:  dg.SrcSocket,
		SrcNetwork:  rxPort.CurrentRange().Min,
		SrcNode:     rxPort.Node(),
		SrcSocket:   dg.DestSocket,
		Type:        ddpType,
		Payload:     reply,
	}
	if err := rxPort.Send(out, dg.SrcNode); err != nil {
		r.log.Debugf("echo: reply send failed: %v", err)
	}
}
