// Package pipetest provides an in-memory pair of link.Driver endpoints for
// tests, so higher layers (Port, Router, services) can be exercised without
// a real network. It mirrors the teacher's transport.Pipe: a pion
// test.Bridge delivering frames between two endpoints on a background
// ticker, wrapped here in the link.Driver shape instead of net.Conn.
package pipetest

import (
	"context"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
	"github.com/tashrouter/tashrouter/pkg/link"
)

// tickInterval is how often the underlying bridge is pumped.
const tickInterval = time.Millisecond

// endpoint is one side of a Pair, implementing link.Driver over one
// connection of a test.Bridge.
type endpoint struct {
	link.BaseState

	conn     netConn
	addr     link.Addr
	peerAddr link.Addr
	handler  link.Handler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// netConn is the subset of net.Conn an endpoint needs; kept narrow so this
// file only depends on what test.Bridge actually returns.
type netConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Pair is two connected in-memory link drivers, standing in for the two
// ends of a point-to-point or shared-bus medium in tests.
type Pair struct {
	bridge   *test.Bridge
	A, B     *endpoint
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a connected Pair. addrA and addrB are the link-layer
// addresses each side reports as its peer's source address on delivery
// (e.g. distinct LLAP node bytes, or MACs for an EtherTalk test).
func New(addrA, addrB link.Addr) *Pair {
	bridge := test.NewBridge()
	p := &Pair{
		bridge: bridge,
		stopCh: make(chan struct{}),
	}
	p.A = &endpoint{conn: bridge.GetConn0(), addr: addrA, peerAddr: addrB}
	p.B = &endpoint{conn: bridge.GetConn1(), addr: addrB, peerAddr: addrA}

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				bridge.Tick()
			}
		}
	}()

	return p
}

// Close stops the bridge pump and both endpoints' connections.
func (p *Pair) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.A.conn.Close()
	p.B.conn.Close()
	return nil
}

// Start implements link.Driver.
func (e *endpoint) Start(ctx context.Context, handler link.Handler) error {
	if err := e.CheckStart(); err != nil {
		return err
	}
	e.handler = handler
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		buf := make([]byte, 4096)
		for {
			select {
			case <-runCtx.Done():
				return
			default:
			}
			n, err := e.conn.Read(buf)
			if err != nil {
				return
			}
			frame := make([]byte, n)
			copy(frame, buf[:n])
			e.handler(frame, e.peerAddr)
		}
	}()
	return nil
}

// Stop implements link.Driver.
func (e *endpoint) Stop() error {
	if err := e.CheckStop(); err != nil {
		return err
	}
	if e.cancel != nil {
		e.cancel()
	}
	err := e.conn.Close()
	e.wg.Wait()
	return err
}

// Transmit implements link.Driver. dest is ignored beyond MTU checking:
// a Pair has exactly one peer, unicast or broadcast.
func (e *endpoint) Transmit(frame []byte, _ link.Addr) error {
	if err := e.CheckTransmit(); err != nil {
		return err
	}
	if len(frame) > e.MTU() {
		return link.ErrFrameTooLarge
	}
	_, err := e.conn.Write(frame)
	return err
}

// Broadcast implements link.Driver.
func (e *endpoint) Broadcast() link.Addr { return link.Addr{0xFF} }

// MTU implements link.Driver, generous enough for any DDP long-form
// datagram plus framing.
func (e *endpoint) MTU() int { return 4096 }

var _ link.Driver = (*endpoint)(nil)
