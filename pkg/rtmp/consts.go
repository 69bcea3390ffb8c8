// Package rtmp implements the Routing Table Maintenance Protocol
// responder and periodic sender (Section 4.2): the reactive service
// bound to socket 1 that learns routes from neighbor advertisements and
// answers RTMP Request/Route Data Request, plus the periodic task that
// advertises this router's RIB out every Online port.
package rtmp

import "time"

// Wire constants (Section 4.2), grounded on the well-known RTMP format.
const (
	// StaticSocket is the RTMP socket number.
	StaticSocket = 1

	// ddpTypeData marks an RTMP data packet (routing table tuples).
	ddpTypeData = 1
	// ddpTypeRequest marks an RTMP Request / Route Data Request.
	ddpTypeRequest = 5

	// version is the RTMP wire-format version this implementation speaks.
	version = 0x82

	// funcRequest asks for a short RTMP response (Section 4.2).
	funcRequest = 1
	// funcRDRSplitHorizon asks for a full routing-table data packet with
	// split horizon applied.
	funcRDRSplitHorizon = 2
	// funcRDRNoSplitHorizon asks for a full routing-table data packet
	// without split horizon.
	funcRDRNoSplitHorizon = 3

	// notifyNeighborDistance replaces any distance too large for RTMP's
	// 5-bit distance field. A zombie route reaches encodeTuple already at
	// rib.Unreachable (16) and is advertised at that distance.
	notifyNeighborDistance = 31
)

// SendInterval is how often the sender advertises this router's RIB out
// every Online port (Section 4.2).
const SendInterval = 10 * time.Second
