package nbp

import (
	"encoding/binary"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Name is an NBP object or type field: a 1-32 byte string. The wildcard
// character '=' (matching any value in that field) is an end-node lookup
// concern, not something the router interprets — it only relays entity
// names as opaque bytes (Section 4.4).
type Name []byte

// zoneWildcard is substituted for an empty zone field, meaning "use the
// zone implied by context" (Section 4.4).
var zoneWildcard = rib.Name("*")

// Tuple is the decoded body of an NBP BrRq or FwdReq packet: the
// requester's address plus the (object, type, zone) entity name.
type Tuple struct {
	NBPID      byte
	ReqNetwork ddp.NetNum
	ReqNode    ddp.Node
	ReqSocket  ddp.Socket
	Object     Name
	Type       Name
	Zone       rib.Name
}

// decodeRequest parses an NBP BrRq/FwdReq payload (Section 4.4). Only
// single-tuple packets are accepted, matching the well-known wire
// convention that BrRq/FwdReq never carry more than one tuple.
func decodeRequest(data []byte) (fn byte, t Tuple, ok bool) {
	if len(data) < 8 {
		return 0, Tuple{}, false
	}
	funcTupleCount := data[0]
	fn = funcTupleCount >> 4
	tupleCount := funcTupleCount & 0xF
	if tupleCount != 1 {
		return 0, Tuple{}, false
	}

	t.NBPID = data[1]
	t.ReqNetwork = ddp.NetNum(binary.BigEndian.Uint16(data[2:4]))
	t.ReqNode = ddp.Node(data[4])
	t.ReqSocket = ddp.Socket(data[5])
	objectLen := int(data[7])
	if objectLen < 1 || objectLen > MaxFieldLen || len(data) < 8+objectLen {
		return 0, Tuple{}, false
	}
	rest := data[8:]
	t.Object = Name(rest[:objectLen])
	rest = rest[objectLen:]

	if len(rest) < 1 {
		return 0, Tuple{}, false
	}
	typeLen := int(rest[0])
	if typeLen < 1 || typeLen > MaxFieldLen || len(rest) < 1+typeLen {
		return 0, Tuple{}, false
	}
	t.Type = Name(rest[1 : 1+typeLen])
	rest = rest[1+typeLen:]

	if len(rest) < 1 {
		return 0, Tuple{}, false
	}
	zoneLen := int(rest[0])
	if zoneLen > MaxFieldLen || len(rest) < 1+zoneLen {
		return 0, Tuple{}, false
	}
	zone := rest[1 : 1+zoneLen]
	if len(zone) == 0 {
		t.Zone = zoneWildcard
	} else {
		t.Zone = rib.Name(zone)
	}

	return fn, t, true
}

// encodeRequest serializes a single-tuple NBP packet for fn (Section
// 4.4), reusing the requester fields and entity name carried by t. The
// zone field is written exactly as t.Zone holds it, including the
// literal "*" wildcard marker.
func encodeRequest(fn byte, t Tuple) []byte {
	buf := make([]byte, 0, 8+len(t.Object)+len(t.Type)+len(t.Zone)+2)
	head := make([]byte, 8)
	head[0] = (fn << 4) | 1
	head[1] = t.NBPID
	binary.BigEndian.PutUint16(head[2:4], uint16(t.ReqNetwork))
	head[4] = byte(t.ReqNode)
	head[5] = byte(t.ReqSocket)
	head[7] = byte(len(t.Object))
	buf = append(buf, head[:8]...)
	buf = append(buf, t.Object...)
	buf = append(buf, byte(len(t.Type)))
	buf = append(buf, t.Type...)
	buf = append(buf, byte(len(t.Zone)))
	buf = append(buf, t.Zone...)
	return buf
}
