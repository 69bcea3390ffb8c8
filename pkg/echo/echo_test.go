package echo

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

func TestResponderRepliesToEchoRequest(t *testing.T) {
	rec := &recordingDriver{}
	p := port.New(port.Config{ID: "A", Driver: rec, Medium: nopMedium{}, Seed: &port.Seed{Range: ddp.NetRange{Min: 5, Max: 5}}})
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
	defer p.Stop()

	ports := port.NewSet()
	ports.Add(p)
	resp := NewResponder(ports, nil)

	dg := &ddp.Datagram{
		SrcNetwork: 5, SrcNode: 50, SrcSocket: StaticSocket,
		DestNetwork: 5, DestNode: p.Node(), DestSocket: StaticSocket,
		Type:    ddpType,
		Payload: []byte{funcRequest, 'h', 'i'},
	}
	resp.HandleInbound(dg, p.ID(), link.Addr{50})

	if len(rec.last) == 0 {
		t.Fatal("expected an echo reply to be transmitted")
	}
	got, err := ddp.DecodeLong(rec.last, false)
	if err != nil {
		t.Fatalf("DecodeLong: %v", err)
	}
	if got.Payload[0] != funcReply {
		t.Fatalf("func = %d, want %d", got.Payload[0], funcReply)
	}
	if string(got.Payload[1:]) != "hi" {
		t.Fatalf("payload tail = %q, want %q", got.Payload[1:], "hi")
	}
	if got.DestNetwork != 5 || got.DestNode != 50 {
		t.Fatalf("dest = %d.%d, want 5.50", got.DestNetwork, got.DestNode)
	}
}

func TestResponderIgnoresNonRequest(t *testing.T) {
	rec := &recordingDriver{}
	p := port.New(port.Config{ID: "A", Driver: rec, Medium: nopMedium{}, Seed: &port.Seed{Range: ddp.NetRange{Min: 5, Max: 5}}})
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
	defer p.Stop()

	ports := port.NewSet()
	ports.Add(p)
	resp := NewResponder(ports, nil)

	dg := &ddp.Datagram{SrcSocket: StaticSocket, Type: ddpType, Payload: []byte{funcReply, 'x'}}
	resp.HandleInbound(dg, p.ID(), link.Addr{50})

	if rec.last != nil {
		t.Fatal("expected no reply to an Echo Reply packet")
	}
}
