// Package ethertalk implements the EtherTalk Link Access Protocol: DDP
// carried in 802.2/SNAP frames over Ethernet, with AARP doing the address
// resolution a shared Ethernet segment needs in place of LocalTalk's
// inherent node addressing (Section 4.6, Section 6).
package ethertalk

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tashrouter/tashrouter/pkg/aarp"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
)

// 802.2 LLC and SNAP framing constants (Section 6).
var (
	headerLLC     = [3]byte{0xAA, 0xAA, 0x03}
	snapAARP      = [5]byte{0x00, 0x00, 0x00, 0x80, 0xF3}
	snapAppleTalk = [5]byte{0x08, 0x00, 0x07, 0x80, 0x9B}

	aarpEthernet  = [2]byte{0x00, 0x01}
	aarpAppleTalk = [2]byte{0x80, 0x9B}
)

// BroadcastMAC is the EtherTalk link-layer broadcast address (Section 6).
var BroadcastMAC = [6]byte{0x09, 0x00, 0x07, 0xFF, 0xFF, 0xFF}

var multicastPrefix = [5]byte{0x09, 0x00, 0x07, 0x00, 0x00}

// multicastAddrCount is the number of distinct ELAP multicast addresses a
// zone name's checksum is hashed into (Section 6).
const multicastAddrCount = 0xFD

// MulticastAddr returns the ELAP multicast address for a zone name, the
// same DDP checksum hash the original zone information table uses to
// uppercase and fold zone names before comparison.
func MulticastAddr(zoneName string) [6]byte {
	sum := ddp.Checksum([]byte(strings.ToUpper(zoneName)))
	addr := multicastPrefix
	return [6]byte{addr[0], addr[1], addr[2], addr[3], addr[4], byte(int(sum) % multicastAddrCount)}
}

const (
	minPayload = 46 // Ethernet's minimum frame payload (Section 6).

	aarpProbeTimeout   = 200 * time.Millisecond
	aarpProbeRetries   = 10
	aarpRequestRetries = 10
)

// ErrAddressUnresolved is returned when AARP cannot resolve a destination
// node to a hardware address within the retry budget.
var ErrAddressUnresolved = errors.New("ethertalk: could not resolve node to hardware address")

type pendingKey struct {
	network ddp.NetNum
	node    ddp.Node
}

// Medium is a link.Medium for EtherTalk: 802.2/SNAP framing for DDP long
// headers, AARP request/response/probe for address resolution and
// collision detection, and an aarp.Table caching the mappings it learns.
type Medium struct {
	mu      sync.RWMutex
	network ddp.NetNum
	node    ddp.Node
	hwAddr  [6]byte
	driver  link.Driver
	pending map[pendingKey]chan struct{}

	amt *aarp.Table
}

// NewMedium returns a Medium for the Ethernet interface with the given
// hardware address. hwAddr is normally read from the interface the Driver
// binds to (Section 6).
func NewMedium(hwAddr [6]byte) *Medium {
	return &Medium{hwAddr: hwAddr, amt: aarp.New()}
}

// Close releases the Medium's AARP mapping table.
func (m *Medium) Close() {
	m.amt.Close()
}

// SetNetwork implements link.NetworkSettler.
func (m *Medium) SetNetwork(network ddp.NetNum) {
	m.mu.Lock()
	m.network = network
	m.mu.Unlock()
}

// SetNode implements link.NodeSettler.
func (m *Medium) SetNode(node ddp.Node) {
	m.mu.Lock()
	m.node = node
	m.mu.Unlock()
}

// ExtendedNetwork reports true: EtherTalk ports carry a contiguous range of
// network numbers (Section 3).
func (m *Medium) ExtendedNetwork() bool { return true }

// AddrForNode resolves node to a cached hardware address, if the AMT has
// one; Port.Send's driver.Transmit ignores this value since EncodeOutbound
// already embeds the destination MAC in the frame, but the method is kept
// faithful to the link.Medium contract and is useful for diagnostics.
func (m *Medium) AddrForNode(node ddp.Node) link.Addr {
	if node == ddp.NodeBroadcast {
		return link.Addr(BroadcastMAC[:])
	}
	m.mu.RLock()
	network := m.network
	m.mu.RUnlock()
	if mac, ok := m.amt.Lookup(network, node); ok {
		return link.Addr(mac[:])
	}
	return nil
}

// EncodeOutbound wraps dg in an 802.2/SNAP AppleTalk frame addressed to
// destNode's hardware address, resolving it via AARP first if the AMT has
// no live mapping (Section 4.6).
func (m *Medium) EncodeOutbound(dg *ddp.Datagram, destNode ddp.Node) ([]byte, error) {
	var destMAC [6]byte
	switch {
	case destNode == ddp.NodeBroadcast:
		destMAC = BroadcastMAC
	default:
		if mac, ok := m.amt.Lookup(dg.DestNetwork, destNode); ok {
			destMAC = mac
		} else {
			mac, err := m.resolve(dg.DestNetwork, destNode)
			if err != nil {
				return nil, err
			}
			destMAC = mac
		}
	}
	body, err := dg.EncodeLong(true)
	if err != nil {
		return nil, err
	}
	return m.frameFor(destMAC, snapAppleTalk, body), nil
}

// DecodeInbound parses an 802.2/SNAP frame: an AppleTalk frame decodes to a
// Datagram (and, for directly-originated traffic, refreshes the AMT with
// the sender's hardware address); an AARP frame is handled entirely here
// (answering requests/probes naming us, feeding responses into the AMT)
// and yields no Datagram.
func (m *Medium) DecodeInbound(frame []byte, _ link.Addr) (*ddp.Datagram, error) {
	if len(frame) < 22 {
		return nil, ddp.ErrMalformedDatagram
	}
	if !bytes.Equal(frame[14:17], headerLLC[:]) {
		return nil, nil
	}
	switch {
	case bytes.Equal(frame[17:22], snapAARP[:]):
		if pkt, ok := parseAARP(frame); ok {
			m.handleAARP(pkt)
		}
		return nil, nil
	case bytes.Equal(frame[17:22], snapAppleTalk[:]):
		// Trim Ethernet padding: the DDP length field says where the
		// datagram ends.
		body := frame[22:]
		if len(body) >= 2 {
			if n := int(body[0]&0x03)<<8 | int(body[1]); n <= len(body) {
				body = body[:n]
			}
		}
		dg, err := ddp.DecodeLong(body, true)
		if err != nil {
			return nil, err
		}
		if dg.HopCount == 0 {
			var srcMAC [6]byte
			copy(srcMAC[:], frame[6:12])
			m.amt.Observe(dg.SrcNetwork, dg.SrcNode, srcMAC)
		}
		return dg, nil
	default:
		return nil, nil
	}
}

// Probe implements Section 4.6 step 2's collision check via AARP Probe:
// broadcast a probe for (network.Min, candidate) up to aarpProbeRetries
// times, aarpProbeTimeout apart, declaring a collision the moment any AARP
// traffic naming (network.Min, candidate) as its sender arrives.
func (m *Medium) Probe(ctx context.Context, driver link.Driver, inbound <-chan link.Frame, network ddp.NetRange, candidate ddp.Node) (bool, error) {
	m.mu.Lock()
	m.driver = driver
	m.mu.Unlock()

	for attempt := 0; attempt < aarpProbeRetries; attempt++ {
		pkt := m.buildAARP(aarp.FunctionProbe, aarp.HWAddr{}, network.Min, candidate)
		frame := m.frameFor(BroadcastMAC, snapAARP, pkt.Encode())
		if err := driver.Transmit(frame, driver.Broadcast()); err != nil {
			return false, err
		}

		deadline := time.After(aarpProbeTimeout)
	waitForChallenge:
		for {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-deadline:
				break waitForChallenge
			case f := <-inbound:
				if challengesCandidate(f.Data, network.Min, candidate) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func challengesCandidate(frame []byte, network ddp.NetNum, candidate ddp.Node) bool {
	pkt, ok := parseAARP(frame)
	if !ok {
		return false
	}
	return pkt.SenderNetwork == network && pkt.SenderNode == candidate
}

// handleAARP answers requests/probes naming our settled address and feeds
// responses into the AMT, waking anything blocked in resolve.
func (m *Medium) handleAARP(pkt *aarp.Packet) {
	switch pkt.Function {
	case aarp.FunctionRequest, aarp.FunctionProbe:
		m.mu.RLock()
		myNet, myNode, driver := m.network, m.node, m.driver
		m.mu.RUnlock()
		if myNet == 0 || myNode == ddp.NodeUnknown || driver == nil {
			return
		}
		if pkt.TargetNetwork != myNet || pkt.TargetNode != myNode {
			return
		}
		resp := m.buildAARP(aarp.FunctionResponse, pkt.SenderHW, pkt.SenderNetwork, pkt.SenderNode)
		_ = driver.Transmit(m.frameFor(pkt.SenderHW, snapAARP, resp.Encode()), link.Addr(pkt.SenderHW[:]))
	case aarp.FunctionResponse:
		m.amt.Observe(pkt.SenderNetwork, pkt.SenderNode, aarp.MAC(pkt.SenderHW))
		m.signalWaiter(pkt.SenderNetwork, pkt.SenderNode)
	}
}

// resolve sends AARP requests for (network, node) and blocks until the AMT
// is populated or the retry budget is exhausted.
func (m *Medium) resolve(network ddp.NetNum, node ddp.Node) ([6]byte, error) {
	m.mu.RLock()
	driver, myNet, myNode := m.driver, m.network, m.node
	m.mu.RUnlock()
	if driver == nil || myNet == 0 || myNode == ddp.NodeUnknown {
		return [6]byte{}, ErrAddressUnresolved
	}

	ch := m.waiter(network, node)
	defer m.clearWaiter(network, node)

	for attempt := 0; attempt < aarpRequestRetries; attempt++ {
		pkt := m.buildAARP(aarp.FunctionRequest, aarp.HWAddr{}, network, node)
		frame := m.frameFor(BroadcastMAC, snapAARP, pkt.Encode())
		if err := driver.Transmit(frame, driver.Broadcast()); err != nil {
			return [6]byte{}, err
		}
		select {
		case <-ch:
			if mac, ok := m.amt.Lookup(network, node); ok {
				return mac, nil
			}
		case <-time.After(aarpProbeTimeout):
		}
	}
	return [6]byte{}, ErrAddressUnresolved
}

func (m *Medium) waiter(network ddp.NetNum, node ddp.Node) chan struct{} {
	key := pendingKey{network, node}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		m.pending = make(map[pendingKey]chan struct{})
	}
	ch, ok := m.pending[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.pending[key] = ch
	}
	return ch
}

func (m *Medium) clearWaiter(network ddp.NetNum, node ddp.Node) {
	key := pendingKey{network, node}
	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()
}

func (m *Medium) signalWaiter(network ddp.NetNum, node ddp.Node) {
	key := pendingKey{network, node}
	m.mu.Lock()
	ch := m.pending[key]
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Medium) buildAARP(fn aarp.Function, targetHW aarp.HWAddr, targetNet ddp.NetNum, targetNode ddp.Node) *aarp.Packet {
	m.mu.RLock()
	senderNet, senderNode, senderHW := m.network, m.node, m.hwAddr
	m.mu.RUnlock()
	return &aarp.Packet{
		Function:      fn,
		SenderHW:      aarp.HWAddr(senderHW),
		SenderNetwork: senderNet,
		SenderNode:    senderNode,
		TargetHW:      targetHW,
		TargetNetwork: targetNet,
		TargetNode:    targetNode,
	}
}

// frameFor wraps an 802.2/SNAP payload in an Ethernet header addressed to
// dst, padding up to the minimum frame payload (Section 6). An AARP payload
// (an aarp.Packet body) is preceded by the AARP hardware/protocol header
// that parseAARP expects.
func (m *Medium) frameFor(dst [6]byte, snap [5]byte, payload []byte) []byte {
	body := make([]byte, 0, len(headerLLC)+len(snap)+len(payload))
	body = append(body, headerLLC[:]...)
	body = append(body, snap[:]...)
	if snap == snapAARP {
		body = append(body, aarpEthernet[:]...)
		body = append(body, aarpAppleTalk[:]...)
		body = append(body, 6, 4) // hardware and protocol address lengths
	}
	body = append(body, payload...)
	if len(body) < minPayload {
		body = append(body, make([]byte, minPayload-len(body))...)
	}

	m.mu.RLock()
	hw := m.hwAddr
	m.mu.RUnlock()

	frame := make([]byte, 0, 14+len(body))
	frame = append(frame, dst[:]...)
	frame = append(frame, hw[:]...)
	frame = append(frame, byte(len(body)>>8), byte(len(body)))
	frame = append(frame, body...)
	return frame
}

// parseAARP extracts the AARP packet body from an 802.2/SNAP frame already
// known to carry the AARP SNAP header.
func parseAARP(frame []byte) (*aarp.Packet, bool) {
	if len(frame) < 28 {
		return nil, false
	}
	if !bytes.Equal(frame[14:17], headerLLC[:]) || !bytes.Equal(frame[17:22], snapAARP[:]) {
		return nil, false
	}
	rest := frame[22:]
	if len(rest) < 6 || !bytes.Equal(rest[0:2], aarpEthernet[:]) || !bytes.Equal(rest[2:4], aarpAppleTalk[:]) {
		return nil, false
	}
	pkt, err := aarp.Decode(rest[6:])
	if err != nil {
		return nil, false
	}
	return pkt, true
}
