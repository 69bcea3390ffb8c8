package nbp

import (
	"context"
	"testing"
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
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

func onlinePort(t *testing.T, id rib.PortID, rng ddp.NetRange, rec *recordingDriver) *port.Port {
	t.Helper()
	p := port.New(port.Config{ID: id, Driver: rec, Medium: nopMedium{}, Seed: &port.Seed{Range: rng}})
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

func brRqPayload(zone string) []byte {
	return encodeRequest(ctrlBrRq, Tuple{
		NBPID: 7, ReqNetwork: 1, ReqNode: 50, ReqSocket: 200,
		Object: Name("*"), Type: Name("AFPServer"), Zone: rib.Name(zone),
	})
}

func TestBrRqWithKnownSingleZoneBroadcastsLkUp(t *testing.T) {
	rt := rib.New()
	zt := rib.NewZoneTable()
	ports := port.NewSet()
	rec := &recordingDriver{}
	a := onlinePort(t, "A", ddp.NetRange{Min: 1, Max: 1}, rec)
	ports.Add(a)
	rt.InsertDirect(a.CurrentRange(), a.ID(), time.Now())
	zt.Set(a.CurrentRange(), []rib.Name{rib.Name("HQ")}, rib.Name("HQ"))

	resp := NewResponder(rt, zt, ports, nil, nil)
	dg := &ddp.Datagram{SrcNetwork: 1, SrcNode: 50, SrcSocket: StaticSocket, DestSocket: StaticSocket, Type: ddpType, Payload: brRqPayload("")}
	resp.HandleInbound(dg, a.ID(), link.Addr{50})

	if len(rec.last) == 0 {
		t.Fatal("expected an LkUp broadcast")
	}
	got, err := ddp.DecodeLong(rec.last, false)
	if err != nil {
		t.Fatalf("DecodeLong: %v", err)
	}
	fn, tup, ok := decodeRequest(got.Payload)
	if !ok || fn != ctrlLkUp {
		t.Fatalf("fn = %d, ok = %v, want LkUp", fn, ok)
	}
	if !tup.Zone.Equal(rib.Name("HQ")) {
		t.Fatalf("zone = %q, want HQ (substituted from the single local zone)", tup.Zone)
	}
}

func TestBrRqRemoteZoneProducesFwdReq(t *testing.T) {
	rt := rib.New()
	zt := rib.NewZoneTable()
	ports := port.NewSet()
	rec := &recordingDriver{}
	a := onlinePort(t, "A", ddp.NetRange{Min: 1, Max: 1}, rec)
	ports.Add(a)
	rt.InsertDirect(a.CurrentRange(), a.ID(), time.Now())
	// Network 10 is learned (not direct), serving zone "Remote".
	rt.ReceiveAdvertisement(ddp.NetRange{Min: 10, Max: 10}, 2, 1, 99, a.ID(), time.Now())
	zt.Set(ddp.NetRange{Min: 10, Max: 10}, []rib.Name{rib.Name("Remote")}, rib.Name("Remote"))

	var routed *ddp.Datagram
	outbound := outboundFunc(func(dg *ddp.Datagram) error { routed = dg; return nil })
	resp := NewResponder(rt, zt, ports, outbound, nil)

	dg := &ddp.Datagram{SrcNetwork: 1, SrcNode: 50, SrcSocket: StaticSocket, DestSocket: StaticSocket, Type: ddpType, Payload: brRqPayload("Remote")}
	resp.HandleInbound(dg, a.ID(), link.Addr{50})

	if routed == nil {
		t.Fatal("expected a FwdReq to be routed out")
	}
	fn, _, ok := decodeRequest(routed.Payload)
	if !ok || fn != ctrlFwdReq {
		t.Fatalf("fn = %d, ok = %v, want FwdReq", fn, ok)
	}
	if routed.DestNetwork != 10 {
		t.Fatalf("DestNetwork = %d, want 10", routed.DestNetwork)
	}
}

func TestFwdReqBecomesLocalLkUp(t *testing.T) {
	rt := rib.New()
	zt := rib.NewZoneTable()
	ports := port.NewSet()
	rec := &recordingDriver{}
	a := onlinePort(t, "A", ddp.NetRange{Min: 5, Max: 5}, rec)
	ports.Add(a)
	rt.InsertDirect(a.CurrentRange(), a.ID(), time.Now())

	resp := NewResponder(rt, zt, ports, nil, nil)
	fwdreq := encodeRequest(ctrlFwdReq, Tuple{NBPID: 1, Object: Name("*"), Type: Name("AFPServer"), Zone: rib.Name("HQ")})
	dg := &ddp.Datagram{DestNetwork: 5, Type: ddpType, Payload: fwdreq}
	resp.HandleInbound(dg, a.ID(), nil)

	if len(rec.last) == 0 {
		t.Fatal("expected an LkUp broadcast on the directly-connected network")
	}
	got, err := ddp.DecodeLong(rec.last, false)
	if err != nil {
		t.Fatalf("DecodeLong: %v", err)
	}
	fn, _, ok := decodeRequest(got.Payload)
	if !ok || fn != ctrlLkUp {
		t.Fatalf("fn = %d, ok = %v, want LkUp", fn, ok)
	}
}

type outboundFunc func(dg *ddp.Datagram) error

func (f outboundFunc) RouteOut(dg *ddp.Datagram) error { return f(dg) }
