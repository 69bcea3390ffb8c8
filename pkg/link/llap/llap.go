package llap

import (
	"context"
	"sync"
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
)

// LLAP frame type byte, the third byte of every frame (Section 4.6,
// Section 6).
const (
	typeShortHeader byte = 0x01
	typeLongHeader  byte = 0x02
	typeENQ         byte = 0x81
	typeACK         byte = 0x82
)

// ENQ timing for node address acquisition (Section 4.6 step 2). LocalTalk
// specific: a medium built for a different bus picks its own cadence.
const (
	enqInterval = 250 * time.Millisecond
	enqAttempts = 8
)

// HeaderSize is the size of the LLAP frame header: destination node,
// source node, frame type.
const HeaderSize = 3

// Medium implements link.Medium for the LocalTalk family (LToUDP,
// TashTalk): a 3-byte LLAP header wrapping short- or long-form DDP, plus
// ENQ/ACK collision probing in place of AARP (Section 4.6, Section 6).
// The zero value is ready to use; it settles its network and node lazily
// as the owning Port progresses through acquisition.
type Medium struct {
	mu      sync.RWMutex
	network ddp.NetNum
	node    ddp.Node
	driver  link.Driver
}

// NewMedium returns a Medium ready to be handed to port.Config.
func NewMedium() *Medium { return &Medium{} }

// SetNetwork implements link.NetworkSettler.
func (m *Medium) SetNetwork(network ddp.NetNum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.network = network
}

// SetNode implements link.NodeSettler.
func (m *Medium) SetNode(node ddp.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.node = node
}

// EncodeOutbound implements link.Medium. It chooses short-form framing
// for intra-network traffic (the common case: DestNetwork equal to
// SrcNetwork, which LLAP's header carries no room for anyway) and
// long-form otherwise.
func (m *Medium) EncodeOutbound(dg *ddp.Datagram, destNode ddp.Node) ([]byte, error) {
	var body []byte
	var err error
	llapType := typeLongHeader
	if dg.DestNetwork == dg.SrcNetwork {
		llapType = typeShortHeader
		body, err = dg.EncodeShort()
	} else {
		body, err = dg.EncodeLong(false)
	}
	if err != nil {
		return nil, err
	}
	frame := make([]byte, HeaderSize, HeaderSize+len(body))
	frame[0] = byte(destNode)
	frame[1] = byte(dg.SrcNode)
	frame[2] = llapType
	return append(frame, body...), nil
}

// DecodeInbound implements link.Medium. A short-form frame carries no
// network number on the wire (Datagram's doc comment on NetNumUnknown);
// Medium stamps it with the Port's own settled network, which naturally
// confines a short-form datagram to local delivery or Drop once it
// reaches ddp.Decide (Section 4.1: "short-form datagrams are never
// routed"). An ENQ challenging our own settled node is answered with ACK
// and consumed here, never reaching the Port's Inbound callback.
func (m *Medium) DecodeInbound(frame []byte, _ link.Addr) (*ddp.Datagram, error) {
	if len(frame) < HeaderSize {
		return nil, ddp.ErrMalformedDatagram
	}
	destNode, srcNode, llapType := ddp.Node(frame[0]), ddp.Node(frame[1]), frame[2]
	switch llapType {
	case typeShortHeader:
		dg, err := ddp.DecodeShort(frame[HeaderSize:], destNode, srcNode)
		if err != nil {
			return nil, err
		}
		m.mu.RLock()
		network := m.network
		m.mu.RUnlock()
		dg.DestNetwork, dg.SrcNetwork = network, network
		return dg, nil
	case typeLongHeader:
		return ddp.DecodeLong(frame[HeaderSize:], true)
	case typeENQ:
		m.answerENQ(destNode)
		return nil, nil
	default:
		// ACK, and anything else: only meaningful during acquisition,
		// where Port routes frames to Probe instead of DecodeInbound.
		return nil, nil
	}
}

func (m *Medium) answerENQ(destNode ddp.Node) {
	m.mu.RLock()
	node, driver := m.node, m.driver
	m.mu.RUnlock()
	if node == ddp.NodeUnknown || node != destNode || driver == nil {
		return
	}
	ack := []byte{byte(node), byte(node), typeACK}
	_ = driver.Transmit(ack, driver.Broadcast())
}

// Probe implements link.Medium's collision check (Section 4.6 step 2)
// with LLAP ENQ/ACK: broadcast ENQ naming candidate every enqInterval,
// up to enqAttempts times, and declare it in use the moment another
// node's ENQ or ACK names it back.
func (m *Medium) Probe(ctx context.Context, driver link.Driver, inbound <-chan link.Frame, _ ddp.NetRange, candidate ddp.Node) (bool, error) {
	m.mu.Lock()
	m.driver = driver
	m.mu.Unlock()

	enq := []byte{byte(candidate), byte(candidate), typeENQ}
	for attempt := 0; attempt < enqAttempts; attempt++ {
		if err := driver.Transmit(enq, driver.Broadcast()); err != nil {
			return false, err
		}
		deadline := time.After(enqInterval)
	waitForChallenge:
		for {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-deadline:
				break waitForChallenge
			case f := <-inbound:
				if challengesCandidate(f.Data, candidate) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// challengesCandidate reports whether frame is an ENQ or ACK naming
// candidate as its destination node — evidence that candidate is already
// claimed by some other node on the bus.
func challengesCandidate(frame []byte, candidate ddp.Node) bool {
	if len(frame) < HeaderSize {
		return false
	}
	if ddp.Node(frame[0]) != candidate {
		return false
	}
	llapType := frame[2]
	return llapType == typeENQ || llapType == typeACK
}

// AddrForNode implements link.Medium: a LocalTalk link address is just
// the node number itself.
func (m *Medium) AddrForNode(node ddp.Node) link.Addr { return link.Addr{byte(node)} }

// ExtendedNetwork implements link.Medium: LocalTalk carries a single
// network number, never a range.
func (m *Medium) ExtendedNetwork() bool { return false }
