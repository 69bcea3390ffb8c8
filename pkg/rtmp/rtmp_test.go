package rtmp

import (
	"context"
	"testing"
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

type nopDriver struct{ h link.Handler }

func (d *nopDriver) Start(_ context.Context, h link.Handler) error { d.h = h; return nil }
func (d *nopDriver) Stop() error                                   { return nil }
func (d *nopDriver) Transmit([]byte, link.Addr) error              { return nil }
func (d *nopDriver) Broadcast() link.Addr                          { return link.Addr{0xFF} }
func (d *nopDriver) MTU() int                                      { return 1024 }

type nopMedium struct{}

func (nopMedium) EncodeOutbound(dg *ddp.Datagram, _ ddp.Node) ([]byte, error) { return dg.EncodeLong(false) }
func (nopMedium) DecodeInbound(frame []byte, _ link.Addr) (*ddp.Datagram, error) {
	return ddp.DecodeLong(frame, false)
}
func (nopMedium) Probe(ctx context.Context, _ link.Driver, _ <-chan link.Frame, _ ddp.NetRange, _ ddp.Node) (bool, error) {
	return false, nil
}
func (nopMedium) AddrForNode(n ddp.Node) link.Addr { return link.Addr{byte(n)} }
func (nopMedium) ExtendedNetwork() bool            { return false }

// extendedMedium stands in for an EtherTalk-style medium: same wire
// behavior as nopMedium, but ExtendedNetwork reports true.
type extendedMedium struct{ nopMedium }

func (extendedMedium) ExtendedNetwork() bool { return true }

func onlineExtendedPort(t *testing.T, id rib.PortID, rng ddp.NetRange) *port.Port {
	t.Helper()
	p := port.New(port.Config{
		ID:     id,
		Driver: &nopDriver{},
		Medium: extendedMedium{},
		Seed:   &port.Seed{Range: rng},
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.After(time.Second)
	for p.State() != port.Online {
		select {
		case <-deadline:
			t.Fatalf("port did not reach Online")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Cleanup(func() { p.Stop() })
	return p
}

// onlinePort constructs a seeded, Online *port.Port for tests without
// going through a real link driver.
func onlinePort(t *testing.T, id rib.PortID, rng ddp.NetRange) *port.Port {
	t.Helper()
	p := port.New(port.Config{
		ID:     id,
		Driver: &nopDriver{},
		Medium: nopMedium{},
		Seed:   &port.Seed{Range: rng},
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.After(time.Second)
	for p.State() != port.Online {
		select {
		case <-deadline:
			t.Fatalf("port did not reach Online")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestBuildDataPayloadsSplitHorizon(t *testing.T) {
	rt := rib.New()
	now := time.Now()
	a := onlinePort(t, "A", ddp.NetRange{Min: 1, Max: 1})
	b := onlinePort(t, "B", ddp.NetRange{Min: 2, Max: 2})

	if err := rt.InsertDirect(a.CurrentRange(), a.ID(), now); err != nil {
		t.Fatalf("InsertDirect A: %v", err)
	}
	if err := rt.InsertDirect(b.CurrentRange(), b.ID(), now); err != nil {
		t.Fatalf("InsertDirect B: %v", err)
	}
	// A learned route reached via port B must not be re-advertised out B.
	rt.ReceiveAdvertisement(ddp.NetRange{Min: 10, Max: 10}, 1, 2, 100, b.ID(), now)

	payloads := BuildDataPayloads(rt, b, true)
	if len(payloads) != 1 {
		t.Fatalf("len(payloads) = %d, want 1", len(payloads))
	}
	// Only network 1 (directly connected via A) should follow the 7-byte
	// header; B's own route and network 10 both egress via B and are
	// split-horizoned out of B.
	if len(payloads[0]) != 10 {
		t.Fatalf("payload length = %d, want 10 (header + network 1's tuple)", len(payloads[0]))
	}
}

func TestBuildDataPayloadsExtendedPortAdvertisesOwnRouteUnderSplitHorizon(t *testing.T) {
	rt := rib.New()
	now := time.Now()
	c := onlineExtendedPort(t, "C", ddp.NetRange{Min: 8, Max: 9})

	if err := rt.InsertDirect(c.CurrentRange(), c.ID(), now); err != nil {
		t.Fatalf("InsertDirect C: %v", err)
	}
	// A route learned via C itself must still be split-horizoned out of C...
	rt.ReceiveAdvertisement(ddp.NetRange{Min: 50, Max: 50}, 1, 2, 100, c.ID(), now)

	payloads := BuildDataPayloads(rt, c, true)
	if len(payloads) != 1 {
		t.Fatalf("len(payloads) = %d, want 1", len(payloads))
	}
	// ...but C's own directly-connected range must still be advertised:
	// 4-byte header + 6-byte extended own-tuple, no other tuples.
	if len(payloads[0]) != 10 {
		t.Fatalf("payload length = %d, want 10 (header + own extended tuple only)", len(payloads[0]))
	}
}

func TestResponderLearnsRouteFromDataPacket(t *testing.T) {
	rt := rib.New()
	ports := port.NewSet()
	a := onlinePort(t, "A", ddp.NetRange{Min: 1, Max: 1})
	b := onlinePort(t, "B", ddp.NetRange{Min: 2, Max: 2})
	ports.Add(a)
	ports.Add(b)
	rt.InsertDirect(a.CurrentRange(), a.ID(), time.Now())
	rt.InsertDirect(b.CurrentRange(), b.ID(), time.Now())

	resp := NewResponder(rt, ports, nil, nil)

	// Neighbor (2, 100) on port B advertises network 10 at distance 0
	// (Scenario 2, Section 8).
	header := make([]byte, 7)
	header[0], header[1] = 0, 2 // sender network 2
	header[2] = 8
	header[3] = 100
	header[6] = version
	tupleBytes := encodeTuple(rib.Route{Range: ddp.NetRange{Min: 10, Max: 10}, Distance: 0})
	payload := append(header, tupleBytes...)

	dg := &ddp.Datagram{
		SrcNetwork: 2, SrcNode: 100, SrcSocket: StaticSocket,
		DestSocket: StaticSocket, Type: ddpTypeData, Payload: payload,
	}
	resp.HandleInbound(dg, b.ID(), link.Addr{100})

	route, ok := rt.Lookup(10)
	if !ok {
		t.Fatal("expected route to network 10")
	}
	if route.Distance != 1 || route.NextNode != 100 || route.Port != b.ID() {
		t.Fatalf("route = %+v, want distance=1 next_node=100 port=B", route)
	}
}
