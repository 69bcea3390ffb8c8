package zip

import (
	"encoding/binary"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// zonePair is one decoded (network_min, zone_name) entry out of a ZIP
// Reply or Extended Reply (Section 4.3).
type zonePair struct {
	NetworkMin ddp.NetNum
	Zone       rib.Name
}

// decodeReply parses a ZIP Reply/Extended Reply payload into its function
// code, declared count, and (network, zone) pairs.
func decodeReply(data []byte) (fn byte, count byte, pairs []zonePair, ok bool) {
	if len(data) < 2 {
		return 0, 0, nil, false
	}
	fn, count = data[0], data[1]
	data = data[2:]
	for len(data) >= 3 {
		netMin := ddp.NetNum(binary.BigEndian.Uint16(data[0:2]))
		zoneLen := int(data[2])
		if len(data) < 3+zoneLen {
			break
		}
		zone := rib.Name(data[3 : 3+zoneLen])
		data = data[3+zoneLen:]
		if zoneLen == 0 {
			continue
		}
		pairs = append(pairs, zonePair{NetworkMin: netMin, Zone: zone})
	}
	if len(pairs) == 0 {
		return 0, 0, nil, false
	}
	return fn, count, pairs, true
}

func encodeZonePair(netMin ddp.NetNum, zone rib.Name) []byte {
	buf := make([]byte, 3+len(zone))
	binary.BigEndian.PutUint16(buf[0:2], uint16(netMin))
	buf[2] = byte(len(zone))
	copy(buf[3:], zone)
	return buf
}

// decodeQuery parses a ZIP Query payload into the list of requested
// network numbers.
func decodeQuery(data []byte) ([]ddp.NetNum, bool) {
	if len(data) < 4 {
		return nil, false
	}
	count := int(data[1])
	data = data[2:]
	if len(data) != count*2 {
		return nil, false
	}
	nets := make([]ddp.NetNum, count)
	for i := range nets {
		nets[i] = ddp.NetNum(binary.BigEndian.Uint16(data[i*2 : i*2+2]))
	}
	return nets, true
}

// encodeQuery builds a ZIP Query payload for the given network numbers.
func encodeQuery(nets []ddp.NetNum) []byte {
	buf := make([]byte, 2+2*len(nets))
	buf[0] = funcQuery
	buf[1] = byte(len(nets))
	for i, n := range nets {
		binary.BigEndian.PutUint16(buf[2+i*2:4+i*2], uint16(n))
	}
	return buf
}

// netInfoRequest is a decoded GetNetInfo request (Section 4.3).
type netInfoRequest struct {
	Zone rib.Name
}

func decodeGetNetInfo(data []byte) (netInfoRequest, bool) {
	if len(data) < 7 {
		return netInfoRequest{}, false
	}
	for _, b := range data[1:6] {
		if b != 0 {
			return netInfoRequest{}, false
		}
	}
	zoneLen := int(data[6])
	if len(data) < 7+zoneLen {
		return netInfoRequest{}, false
	}
	return netInfoRequest{Zone: rib.Name(data[7 : 7+zoneLen])}, true
}

// netInfoReply mirrors the fields of a GetNetInfo reply (Section 4.3).
type netInfoReply struct {
	Flags         byte
	Range         ddp.NetRange
	GivenZone     rib.Name
	MulticastAddr []byte
	DefaultZone   rib.Name
}

func encodeGetNetInfoReply(r netInfoReply) []byte {
	buf := make([]byte, 0, 16+len(r.GivenZone)+len(r.MulticastAddr)+len(r.DefaultZone))
	head := make([]byte, 8)
	head[0] = funcGetNetInfoRep
	head[1] = r.Flags
	binary.BigEndian.PutUint16(head[2:4], uint16(r.Range.Min))
	binary.BigEndian.PutUint16(head[4:6], uint16(r.Range.Max))
	head[6] = byte(len(r.GivenZone))
	buf = append(buf, head[:7]...)
	buf = append(buf, r.GivenZone...)
	buf = append(buf, byte(len(r.MulticastAddr)))
	buf = append(buf, r.MulticastAddr...)
	if r.Flags&flagZoneInvalid != 0 {
		buf = append(buf, byte(len(r.DefaultZone)))
		buf = append(buf, r.DefaultZone...)
	}
	return buf
}

// encodeZoneListRequest builds a paginated enumeration request (Section
// 4.3: "paginated form indexed by a starting position"), spoken as a bare
// ZIP function rather than wrapped in ATP transaction framing.
func encodeZoneListRequest(fn byte, startIndex uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = fn
	binary.BigEndian.PutUint16(buf[1:3], startIndex)
	return buf
}

func decodeZoneListRequest(data []byte) (startIndex uint16, ok bool) {
	if len(data) != 3 {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[1:3]), true
}

// encodeZoneListReply packs as many zones as fit starting at zones[0],
// reporting whether this page is the last one.
func encodeZoneListReply(fn byte, zones []rib.Name, last bool) []byte {
	buf := make([]byte, 4)
	buf[0] = fn
	if last {
		buf[1] = 1
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(zones)))
	for _, z := range zones {
		buf = append(buf, byte(len(z)))
		buf = append(buf, z...)
	}
	return buf
}

func decodeZoneListReply(data []byte) (last bool, zones []rib.Name, ok bool) {
	if len(data) < 4 {
		return false, nil, false
	}
	last = data[1] != 0
	count := int(binary.BigEndian.Uint16(data[2:4]))
	data = data[4:]
	for i := 0; i < count; i++ {
		if len(data) < 1 {
			return false, nil, false
		}
		n := int(data[0])
		if len(data) < 1+n {
			return false, nil, false
		}
		zones = append(zones, rib.Name(data[1:1+n]))
		data = data[1+n:]
	}
	return last, zones, true
}
