package link

import (
	"context"

	"github.com/tashrouter/tashrouter/pkg/ddp"
)

// Frame is a raw inbound frame paired with the link address it arrived
// from, as handed to a Medium that needs to watch traffic outside the
// normal DecodeInbound path (address-acquisition probing).
type Frame struct {
	Data []byte
	Src  Addr
}

// Medium is the per-family framing and address-acquisition strategy a Port
// (Section 4.6) layers on top of a Driver's raw frames. LToUDP and TashTalk
// share an LLAP-framed Medium; EtherTalk supplies its own SNAP/AARP-framed
// Medium. Keeping this separate from Driver lets the same Medium logic
// serve more than one transport (Section 6).
type Medium interface {
	// EncodeOutbound wraps dg for transmission to destNode on this medium,
	// choosing short- or long-form DDP framing as the medium dictates.
	EncodeOutbound(dg *ddp.Datagram, destNode ddp.Node) ([]byte, error)

	// DecodeInbound parses a raw frame received from src. It returns a nil
	// datagram and nil error when the frame was a medium-internal control
	// frame (LLAP ENQ/ACK, AARP) fully handled inside DecodeInbound itself
	// (e.g. answering an ENQ, or feeding an AARP table).
	DecodeInbound(frame []byte, src Addr) (*ddp.Datagram, error)

	// Probe drives Section 4.6 step 2's collision check for candidate on
	// network, consuming raw frames from inbound until it is satisfied or
	// ctx is done. LocalTalk-family media implement this with LLAP
	// ENQ/ACK; EtherTalk implements it with AARP Probe (Section 4.6).
	Probe(ctx context.Context, driver Driver, inbound <-chan Frame, network ddp.NetRange, candidate ddp.Node) (inUse bool, err error)

	// AddrForNode resolves a DDP node number to this medium's link address,
	// e.g. a single LLAP node byte, or an AMT lookup for EtherTalk.
	AddrForNode(node ddp.Node) Addr

	// ExtendedNetwork reports whether this medium's ports carry a
	// contiguous range of network numbers (true for EtherTalk) or a single
	// network number (false for LocalTalk-family media).
	ExtendedNetwork() bool
}

// NetworkSettler is an optional capability a Medium implements when its
// wire framing omits the network number on some frames and needs the
// Port's settled network fed back in (LLAP's short-form frames carry no
// network number at all; Section 4.6 step 1 settles the network before
// step 2 settles the node). Port calls SetNetwork once its network range
// is known, before address acquisition begins.
type NetworkSettler interface {
	SetNetwork(network ddp.NetNum)
}

// NodeSettler is the NetworkSettler counterpart for the node number,
// called once a Port reaches Online (Section 4.6 step 2). LLAP needs its
// own node to answer ENQ frames challenging it after acquisition.
type NodeSettler interface {
	SetNode(node ddp.Node)
}
