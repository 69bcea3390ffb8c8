package router

import (
	"context"
	"testing"
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
)

type recordingDriver struct {
	h    link.Handler
	last []byte
}

func (d *recordingDriver) Start(_ context.Context, h link.Handler) error { d.h = h; return nil }
func (d *recordingDriver) Stop() error                                  { return nil }
func (d *recordingDriver) Transmit(frame []byte, _ link.Addr) error {
	d.last = append([]byte(nil), frame...)
	return nil
}
func (d *recordingDriver) Broadcast() link.Addr { return link.Addr{0xFF} }
func (d *recordingDriver) MTU() int             { return 1024 }

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

func waitOnline(t *testing.T, p *port.Port) {
	t.Helper()
	deadline := time.After(time.Second)
	for p.State() != port.Online {
		select {
		case <-deadline:
			t.Fatalf("port %s did not reach Online", p.ID())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// twoPortRouter builds and starts a Router with two directly-connected
// networks, one behind recA and one behind recB, for exercising transit
// forwarding between them (Section 8, scenario 1).
func twoPortRouter(t *testing.T) (r *Router, recA, recB *recordingDriver) {
	t.Helper()
	recA, recB = &recordingDriver{}, &recordingDriver{}
	r = New(Config{Ports: []PortSpec{
		{ID: "A", Driver: recA, Medium: nopMedium{}, Seed: &port.Seed{Range: ddp.NetRange{Min: 1, Max: 1}}},
		{ID: "B", Driver: recB, Medium: nopMedium{}, Seed: &port.Seed{Range: ddp.NetRange{Min: 2, Max: 2}}},
	}})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Stop() })
	a, _ := r.Ports().Get("A")
	b, _ := r.Ports().Get("B")
	waitOnline(t, a)
	waitOnline(t, b)
	return r, recA, recB
}

func TestRouterForwardsAcrossPorts(t *testing.T) {
	_, recA, recB := twoPortRouter(t)

	// An Echo Request from a host on network A's segment, addressed to a
	// host on network B (node 5), arrives on port A.
	dg := &ddp.Datagram{
		DestNetwork: 2, DestNode: 5, DestSocket: 4,
		SrcNetwork: 1, SrcNode: 9, SrcSocket: 4,
		Type: 4, Payload: []byte{1, 'h', 'i'},
	}
	frame, err := dg.EncodeLong(false)
	if err != nil {
		t.Fatalf("EncodeLong: %v", err)
	}
	recA.h(frame, link.Addr{9})

	deadline := time.After(time.Second)
	for len(recB.last) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected the datagram to be forwarded out port B")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	got, err := ddp.DecodeLong(recB.last, false)
	if err != nil {
		t.Fatalf("DecodeLong: %v", err)
	}
	if got.DestNetwork != 2 || got.DestNode != 5 {
		t.Fatalf("forwarded dest = (%d,%d), want (2,5)", got.DestNetwork, got.DestNode)
	}
	if got.HopCount != 1 {
		t.Fatalf("HopCount = %d, want 1 (incremented once on forward)", got.HopCount)
	}
}

func TestRouterDeliversEchoLocally(t *testing.T) {
	r, recA, _ := twoPortRouter(t)
	a, _ := r.Ports().Get("A")

	dg := &ddp.Datagram{
		DestNetwork: 1, DestNode: a.Node(), DestSocket: 4,
		SrcNetwork: 1, SrcNode: 9, SrcSocket: 4,
		Type: 4, Payload: []byte{1, 'h', 'i'},
	}
	frame, _ := dg.EncodeLong(false)
	recA.h(frame, link.Addr{9})

	deadline := time.After(time.Second)
	for len(recA.last) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected an Echo Reply to be transmitted locally")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	got, err := ddp.DecodeLong(recA.last, false)
	if err != nil {
		t.Fatalf("DecodeLong: %v", err)
	}
	if len(got.Payload) == 0 || got.Payload[0] != 2 {
		t.Fatalf("payload[0] = %v, want Echo Reply (2)", got.Payload)
	}
}

func TestRouterWithdrawsRouteOnPortStop(t *testing.T) {
	r, _, _ := twoPortRouter(t)
	a, _ := r.Ports().Get("A")

	if _, ok := r.RIB().Lookup(1); !ok {
		t.Fatal("expected a direct route for network 1 before stopping port A")
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	deadline := time.After(time.Second)
	for {
		if _, ok := r.RIB().Lookup(1); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the direct route for network 1 to be withdrawn")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
