package ddp

import "encoding/binary"

// MaxPayloadSize is the largest DDP payload a single datagram may carry
// (Section 3).
const MaxPayloadSize = 586

// MaxHopCount is the highest hop count a datagram may carry before it must
// be dropped (Section 4.1).
const MaxHopCount = 15

// LongHeaderSize is the size in bytes of the long-form DDP header.
const LongHeaderSize = 13

// ShortHeaderSize is the size in bytes of the short-form DDP header.
const ShortHeaderSize = 5

// Datagram is a fully-decoded DDP datagram. Short-form datagrams (intra
// -network LocalTalk traffic) always carry HopCount 0 and their network
// fields are left at NetNumUnknown; the port that received them supplies
// the implied network out of band.
type Datagram struct {
	HopCount    uint8
	DestNetwork NetNum
	SrcNetwork  NetNum
	DestNode    Node
	SrcNode     Node
	DestSocket  Socket
	SrcSocket   Socket
	Type        uint8
	Payload     []byte
}

// Dest returns the destination address carried by the datagram.
func (d *Datagram) Dest() Addr {
	return Addr{Network: d.DestNetwork, Node: d.DestNode, Socket: d.DestSocket}
}

// Src returns the source address carried by the datagram.
func (d *Datagram) Src() Addr {
	return Addr{Network: d.SrcNetwork, Node: d.SrcNode, Socket: d.SrcSocket}
}

// Hopped returns a copy of the datagram with the hop count incremented by
// one, used when re-emitting a forwarded datagram (Section 4.1).
func (d *Datagram) Hopped() Datagram {
	cp := *d
	cp.HopCount = d.HopCount + 1
	return cp
}

// EncodeLong serializes the datagram using the long-form header. When
// withChecksum is false the checksum field is written as 0 (unchecked).
func (d *Datagram) EncodeLong(withChecksum bool) ([]byte, error) {
	if len(d.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	length := LongHeaderSize + len(d.Payload)
	buf := make([]byte, length)

	buf[0] = (d.HopCount&0x0F)<<2 | byte((length>>8)&0x03)
	buf[1] = byte(length & 0xFF)
	// buf[2:4] checksum filled in below
	binary.BigEndian.PutUint16(buf[4:6], uint16(d.DestNetwork))
	binary.BigEndian.PutUint16(buf[6:8], uint16(d.SrcNetwork))
	buf[8] = byte(d.DestNode)
	buf[9] = byte(d.SrcNode)
	buf[10] = byte(d.DestSocket)
	buf[11] = byte(d.SrcSocket)
	buf[12] = d.Type
	copy(buf[LongHeaderSize:], d.Payload)

	if withChecksum {
		binary.BigEndian.PutUint16(buf[2:4], checksum(buf[4:]))
	} else {
		binary.BigEndian.PutUint16(buf[2:4], 0)
	}
	return buf, nil
}

// EncodeShort serializes the datagram using the short-form header. The
// datagram's HopCount must be 0 and its network fields are not carried on
// the wire; short-form traffic is always intra-network (Section 4.1).
func (d *Datagram) EncodeShort() ([]byte, error) {
	if len(d.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	length := ShortHeaderSize + len(d.Payload)
	buf := make([]byte, length)
	buf[0] = byte((length >> 8) & 0x03)
	buf[1] = byte(length & 0xFF)
	buf[2] = byte(d.DestSocket)
	buf[3] = byte(d.SrcSocket)
	buf[4] = d.Type
	copy(buf[ShortHeaderSize:], d.Payload)
	return buf, nil
}

// DecodeLong parses a long-form DDP datagram out of buf. If verifyChecksum
// is true and the embedded checksum is non-zero, the recomputed checksum
// must match or ErrChecksumMismatch is returned.
func DecodeLong(buf []byte, verifyChecksum bool) (*Datagram, error) {
	if len(buf) < LongHeaderSize {
		return nil, ErrMalformedDatagram
	}
	hopCount := (buf[0] & 0x3C) >> 2
	length := int(buf[0]&0x03)<<8 | int(buf[1])
	if length != len(buf) {
		return nil, ErrMalformedDatagram
	}
	embeddedChecksum := binary.BigEndian.Uint16(buf[2:4])
	if verifyChecksum && embeddedChecksum != 0 {
		if got := checksum(buf[4:]); got != embeddedChecksum {
			return nil, ErrChecksumMismatch
		}
	}
	d := &Datagram{
		HopCount:    hopCount,
		DestNetwork: NetNum(binary.BigEndian.Uint16(buf[4:6])),
		SrcNetwork:  NetNum(binary.BigEndian.Uint16(buf[6:8])),
		DestNode:    Node(buf[8]),
		SrcNode:     Node(buf[9]),
		DestSocket:  Socket(buf[10]),
		SrcSocket:   Socket(buf[11]),
		Type:        buf[12],
	}
	if len(buf) > LongHeaderSize {
		d.Payload = append([]byte(nil), buf[LongHeaderSize:]...)
	}
	return d, nil
}

// DecodeShort parses a short-form DDP datagram out of buf. Short-form
// datagrams don't carry source/destination node or network on the wire;
// the caller (the receiving port's link driver) supplies destNode/srcNode
// from link-layer framing and the implied network out of band.
func DecodeShort(buf []byte, destNode, srcNode Node) (*Datagram, error) {
	if len(buf) < ShortHeaderSize {
		return nil, ErrMalformedDatagram
	}
	length := int(buf[0]&0x03)<<8 | int(buf[1])
	if length != len(buf) {
		return nil, ErrMalformedDatagram
	}
	d := &Datagram{
		DestNode:   destNode,
		SrcNode:    srcNode,
		DestSocket: Socket(buf[2]),
		SrcSocket:  Socket(buf[3]),
		Type:       buf[4],
	}
	if len(buf) > ShortHeaderSize {
		d.Payload = append([]byte(nil), buf[ShortHeaderSize:]...)
	}
	return d, nil
}
