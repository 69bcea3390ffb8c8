package aarp

import (
	"encoding/binary"

	"github.com/tashrouter/tashrouter/pkg/ddp"
)

// Function identifies the kind of AARP packet (Section 4.6).
type Function uint16

const (
	// FunctionRequest asks "who has (network, node)?"
	FunctionRequest Function = 1
	// FunctionResponse answers a Request or a Probe that found a
	// collision.
	FunctionResponse Function = 2
	// FunctionProbe asks "is anyone already using (network, node)?" as
	// part of the address-acquisition state machine (Section 4.6).
	FunctionProbe Function = 3
)

// wireSize is the size in bytes of an AARP packet body, not counting the
// link-layer/802.2/SNAP framing a pkg/link/ethertalk driver wraps it in:
// opcode(2) + SHA(6) + SPA(4) + THA(6) + TPA(4).
const wireSize = 2 + 6 + 4 + 6 + 4

// HWAddr is a 48-bit Ethernet hardware address.
type HWAddr [6]byte

// Packet is a decoded AARP packet (Section 4.6).
type Packet struct {
	Function Function

	SenderHW      HWAddr
	SenderNetwork ddp.NetNum
	SenderNode    ddp.Node

	TargetHW      HWAddr
	TargetNetwork ddp.NetNum
	TargetNode    ddp.Node
}

// Encode serializes the AARP packet body (opcode through target protocol
// address).
func (p *Packet) Encode() []byte {
	buf := make([]byte, wireSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.Function))
	copy(buf[2:8], p.SenderHW[:])
	// source protocol address: 1 pad byte + network(2) + node(1)
	binary.BigEndian.PutUint16(buf[9:11], uint16(p.SenderNetwork))
	buf[11] = byte(p.SenderNode)
	copy(buf[12:18], p.TargetHW[:])
	binary.BigEndian.PutUint16(buf[19:21], uint16(p.TargetNetwork))
	buf[21] = byte(p.TargetNode)
	return buf
}

// Decode parses an AARP packet body out of buf.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < wireSize {
		return nil, ErrMalformed
	}
	p := &Packet{Function: Function(binary.BigEndian.Uint16(buf[0:2]))}
	copy(p.SenderHW[:], buf[2:8])
	p.SenderNetwork = ddp.NetNum(binary.BigEndian.Uint16(buf[9:11]))
	p.SenderNode = ddp.Node(buf[11])
	copy(p.TargetHW[:], buf[12:18])
	p.TargetNetwork = ddp.NetNum(binary.BigEndian.Uint16(buf[19:21]))
	p.TargetNode = ddp.Node(buf[21])
	return p, nil
}
