package rtmp

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// encodeHeader builds the fixed prefix of a full RTMP data packet
// (Section 4.2): network/id-length/node, plus either the zero+version
// suffix (non-extended) or the port's own-network tuple (extended).
func encodeHeader(p *port.Port, ownTuple []byte) []byte {
	rng := p.CurrentRange()
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(rng.Min))
	buf[2] = 8
	buf[3] = byte(p.Node())
	if p.ExtendedNetwork() {
		return append(buf, ownTuple...)
	}
	suffix := make([]byte, 3)
	suffix[2] = version
	return append(buf, suffix...)
}

// encodeRequestResponse builds the short RTMP Request reply (Section
// 4.2: "the short enumerating form, not full data").
func encodeRequestResponse(p *port.Port) []byte {
	rng := p.CurrentRange()
	if !p.ExtendedNetwork() {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], uint16(rng.Min))
		buf[2] = 8
		buf[3] = byte(p.Node())
		return buf
	}
	ownTuple := make([]byte, 6)
	binary.BigEndian.PutUint16(ownTuple[0:2], uint16(rng.Min))
	ownTuple[2] = 0x80
	binary.BigEndian.PutUint16(ownTuple[3:5], uint16(rng.Max))
	ownTuple[5] = version
	return encodeHeader(p, ownTuple)
}

// BuildDataPayloads builds the sequence of RTMP data-packet payloads
// needed to advertise rt out egress, applying split horizon if
// splitHorizon is true (Section 4.2), each no larger than a DDP payload.
func BuildDataPayloads(rt *rib.Table, egress *port.Port, splitHorizon bool) [][]byte {
	rng := egress.CurrentRange()
	if rng == (ddp.NetRange{}) {
		return nil
	}

	var ownTuple []byte
	var tuples [][]byte
	for _, route := range rt.All() {
		if egress.ExtendedNetwork() && route.Range == rng {
			// An extended-network port still advertises its own
			// directly-connected range even under split horizon
			// (Section 4.2's split-horizon carve-out).
			ownTuple = encodeTuple(route)
			continue
		}
		if splitHorizon && route.Port == egress.ID() {
			continue
		}
		tuples = append(tuples, encodeTuple(route))
	}
	if egress.ExtendedNetwork() && ownTuple == nil {
		// The port's own directly-connected route isn't in the RIB yet
		// (Online just transitioned); nothing useful to advertise yet.
		return nil
	}

	header := encodeHeader(egress, ownTuple)
	var payloads [][]byte
	cur := append([]byte(nil), header...)
	for _, t := range tuples {
		if len(cur)+len(t) > ddp.MaxPayloadSize {
			payloads = append(payloads, cur)
			cur = append([]byte(nil), header...)
		}
		cur = append(cur, t...)
	}
	payloads = append(payloads, cur)
	return payloads
}

// Sender periodically advertises the RIB out every Online port (Section
// 4.2, Section 5's "one per periodic Service" thread).
type Sender struct {
	rt    *rib.Table
	ports *port.Set
	log   logging.LeveledLogger
}

// NewSender constructs a Sender.
func NewSender(rt *rib.Table, ports *port.Set, log logging.LeveledLogger) *Sender {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("rtmp")
	}
	return &Sender{rt: rt, ports: ports, log: log}
}

// Run blocks, sending every SendInterval until ctx is cancelled (Section
// 5: "periodic services block on a timed wait that may be awoken early
// by stop()" - here ctx cancellation is that signal).
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(SendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendAll()
		}
	}
}

func (s *Sender) sendAll() {
	for _, p := range s.ports.Online() {
		for _, payload := range BuildDataPayloads(s.rt, p, true) {
			dg := &ddp.Datagram{
				DestNetwork: 0,
				DestNode:    ddp.NodeBroadcast,
				DestSocket:  StaticSocket,
				SrcNetwork:  p.CurrentRange().Min,
				SrcNode:     p.Node(),
				SrcSocket:   StaticSocket,
				Type:        ddpTypeData,
				Payload:     payload,
			}
			if err := p.Broadcast(dg); err != nil {
				s.log.Debugf("rtmp: broadcast on %s failed: %v", p.ID(), err)
			}
		}
	}
}
