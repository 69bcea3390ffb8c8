package port

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
)

// fakeDriver is a minimal in-memory link.Driver for FSM tests: Transmit
// records every frame and, when loop is set, hands it back to the
// installed handler as if it were heard by the node itself.
type fakeDriver struct {
	mu      sync.Mutex
	handler link.Handler
	sent    [][]byte
	loop    bool
}

func (d *fakeDriver) Start(_ context.Context, h link.Handler) error {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
	return nil
}
func (d *fakeDriver) Stop() error { return nil }
func (d *fakeDriver) Transmit(frame []byte, _ link.Addr) error {
	d.mu.Lock()
	d.sent = append(d.sent, frame)
	h := d.handler
	loop := d.loop
	d.mu.Unlock()
	if loop && h != nil {
		h(frame, link.Addr{0x01})
	}
	return nil
}
func (d *fakeDriver) Broadcast() link.Addr { return link.Addr{0xFF} }
func (d *fakeDriver) MTU() int             { return 1024 }

// fakeMedium reports a collision only for collideOn: every other probed
// candidate is reported free on the first attempt.
type fakeMedium struct {
	collideOn ddp.Node
}

func (fakeMedium) EncodeOutbound(dg *ddp.Datagram, _ ddp.Node) ([]byte, error) {
	buf, err := dg.EncodeLong(false)
	return buf, err
}

func (fakeMedium) DecodeInbound(frame []byte, _ link.Addr) (*ddp.Datagram, error) {
	return ddp.DecodeLong(frame, false)
}

func (m fakeMedium) Probe(ctx context.Context, _ link.Driver, _ <-chan link.Frame, _ ddp.NetRange, candidate ddp.Node) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	return candidate == m.collideOn, nil
}

func (fakeMedium) AddrForNode(n ddp.Node) link.Addr { return link.Addr{byte(n)} }
func (fakeMedium) ExtendedNetwork() bool            { return false }

func TestPortSeededReachesOnline(t *testing.T) {
	driver := &fakeDriver{}
	p := New(Config{
		ID:     "A",
		Driver: driver,
		Medium: fakeMedium{},
		Seed:   &Seed{Range: ddp.NetRange{Min: 1, Max: 1}},
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.After(time.Second)
	for p.State() != Online {
		select {
		case <-deadline:
			t.Fatalf("port did not reach Online, state=%v", p.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if p.CurrentRange() != (ddp.NetRange{Min: 1, Max: 1}) {
		t.Fatalf("CurrentRange = %v", p.CurrentRange())
	}
	if p.Node() == ddp.NodeUnknown {
		t.Fatal("expected a settled node")
	}
	p.Stop()
}

// Scenario 6 (Section 8): address-acquisition collision.
func TestPortNodeAcquisitionRetriesOnCollision(t *testing.T) {
	driver := &fakeDriver{}
	p := New(Config{
		ID:     "A",
		Driver: driver,
		Medium: fakeMedium{collideOn: 42},
		Seed:   &Seed{Range: ddp.NetRange{Min: 1, Max: 1}},
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.After(time.Second)
	for p.State() != Online {
		select {
		case <-deadline:
			t.Fatalf("port did not reach Online, state=%v", p.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if p.Node() == 42 {
		t.Fatal("port should never settle on the colliding candidate")
	}
	p.Stop()
}

func TestPortDoubleStartFails(t *testing.T) {
	driver := &fakeDriver{}
	p := New(Config{
		ID:     "A",
		Driver: driver,
		Medium: fakeMedium{},
		Seed:   &Seed{Range: ddp.NetRange{Min: 1, Max: 1}},
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	p.Stop()
}
