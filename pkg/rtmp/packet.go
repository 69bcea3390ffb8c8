package rtmp

import (
	"encoding/binary"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// tuple is one decoded (range, distance) entry out of an RTMP data
// packet's payload, after header parsing (Section 4.2).
type tuple struct {
	Range    ddp.NetRange
	Distance uint8
}

// encodeTuple serializes one RIB route as an RTMP tuple: 3 bytes for a
// non-extended range, 6 for an extended one (Section 4.2).
func encodeTuple(r rib.Route) []byte {
	distance := r.Distance
	if distance > 0x1F {
		distance = notifyNeighborDistance
	}
	if !r.Range.Extended() {
		buf := make([]byte, 3)
		binary.BigEndian.PutUint16(buf[0:2], uint16(r.Range.Min))
		buf[2] = distance & 0x1F
		return buf
	}
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], uint16(r.Range.Min))
	buf[2] = (distance & 0x1F) | 0x80
	binary.BigEndian.PutUint16(buf[3:5], uint16(r.Range.Max))
	buf[5] = version
	return buf
}

// decodeTuples parses the tuple list following an RTMP data packet's
// header. It returns false if the tuples don't exactly consume data.
func decodeTuples(data []byte) ([]tuple, bool) {
	var tuples []tuple
	i := 0
	for {
		if i == len(data) {
			return tuples, true
		}
		if len(data)-i < 3 {
			return nil, false
		}
		netMin := ddp.NetNum(binary.BigEndian.Uint16(data[i : i+2]))
		rangeDistance := data[i+2]
		if rangeDistance&0x80 != 0 {
			if len(data)-i < 6 {
				return nil, false
			}
			netMax := ddp.NetNum(binary.BigEndian.Uint16(data[i+3 : i+5]))
			tuples = append(tuples, tuple{Range: ddp.NetRange{Min: netMin, Max: netMax}, Distance: rangeDistance & 0x1F})
			i += 6
		} else {
			tuples = append(tuples, tuple{Range: ddp.NetRange{Min: netMin, Max: netMin}, Distance: rangeDistance & 0x1F})
			i += 3
		}
	}
}

// header is the decoded fixed portion of an RTMP data packet, preceding
// its tuple list (Section 4.2).
type header struct {
	SenderNetwork ddp.NetNum
	SenderNode    ddp.Node
	OwnTuple      *tuple // present only when the sender is an extended-network port
}

// decodeHeader parses the sender-network/id-length/sender-node prefix of
// an RTMP data packet, plus the extended-network indicator, returning the
// remaining bytes (the general tuple list).
func decodeHeader(data []byte, extended bool) (header, []byte, bool) {
	if len(data) < 4 {
		return header{}, nil, false
	}
	senderNetwork := ddp.NetNum(binary.BigEndian.Uint16(data[0:2]))
	idLength := data[2]
	senderNode := ddp.Node(data[3])
	if idLength != 8 {
		return header{}, nil, false
	}
	rest := data[4:]

	h := header{SenderNetwork: senderNetwork, SenderNode: senderNode}
	if extended {
		if len(rest) < 6 {
			return header{}, nil, false
		}
		netMin := ddp.NetNum(binary.BigEndian.Uint16(rest[0:2]))
		rangeDistance := rest[2]
		netMax := ddp.NetNum(binary.BigEndian.Uint16(rest[3:5]))
		rtmpVersion := rest[5]
		if rangeDistance != 0x80 || rtmpVersion != version {
			return header{}, nil, false
		}
		h.OwnTuple = &tuple{Range: ddp.NetRange{Min: netMin, Max: netMax}, Distance: 0}
		return h, rest[6:], true
	}

	if len(rest) < 3 {
		return header{}, nil, false
	}
	zero := binary.BigEndian.Uint16(rest[0:2])
	rtmpVersion := rest[2]
	if zero != 0 || rtmpVersion != version {
		return header{}, nil, false
	}
	return h, rest[3:], true
}
