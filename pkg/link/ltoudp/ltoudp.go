// Package ltoudp implements a link.Driver that carries LocalTalk frames
// over UDP multicast (Section 6), for running a LocalTalk-family port
// without real LocalTalk hardware.
package ltoudp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/link"
)

// Group and Port are LToUDP's well-known multicast rendezvous point; the
// last two octets of the group address spell "LT".
const (
	Group = "239.192.76.84"
	Port  = 1954

	maxDatagram  = 65507
	senderIDSize = 4
	minLLAPFrame = 3 // destination node, source node, frame type
)

// Config constructs a Driver.
type Config struct {
	// InterfaceAddr binds the multicast membership to one local
	// interface's address. Empty means let the kernel pick.
	InterfaceAddr string

	Logger logging.LeveledLogger
}

// Driver is a link.Driver backed by a UDP multicast socket. Every Driver
// on the group hears every other's frames, including its own; a 4-byte
// per-process sender ID is prefixed to each datagram so a Driver can
// recognize and discard transmissions from its own process, its own
// included (Section 6).
type Driver struct {
	state link.BaseState
	log   logging.LeveledLogger

	cfg      Config
	senderID [senderIDSize]byte

	conn   *net.UDPConn
	group  *net.UDPAddr
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Driver. The multicast socket is not opened until Start.
func New(cfg Config) *Driver {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("link.ltoudp")
	}
	d := &Driver{cfg: cfg, log: log}
	binary.BigEndian.PutUint32(d.senderID[:], uint32(os.Getpid()))
	return d
}

// Start joins the LToUDP multicast group and begins the read loop.
func (d *Driver) Start(ctx context.Context, handler link.Handler) error {
	if err := d.state.CheckStart(); err != nil {
		return err
	}

	d.group = &net.UDPAddr{IP: net.ParseIP(Group), Port: Port}

	ifi, err := interfaceFor(d.cfg.InterfaceAddr)
	if err != nil {
		return fmt.Errorf("ltoudp: %w", err)
	}

	conn, err := net.ListenMulticastUDP("udp4", ifi, d.group)
	if err != nil {
		return fmt.Errorf("ltoudp: join %s:%d: %w", Group, Port, err)
	}
	d.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.readLoop(runCtx, handler)

	d.log.Infof("ltoudp: joined %s:%d on %s", Group, Port, ifaceLabel(ifi))
	return nil
}

// Stop leaves the multicast group and waits for the read loop to exit.
func (d *Driver) Stop() error {
	if err := d.state.CheckStop(); err != nil {
		return err
	}
	if d.cancel != nil {
		d.cancel()
	}
	err := d.conn.Close()
	d.wg.Wait()
	return err
}

// Transmit sends frame to the multicast group, prefixed with this
// Driver's sender ID. dest is ignored: LToUDP has no unicast mode, every
// member of the group hears every frame (Section 6), same as a real
// LocalTalk bus.
func (d *Driver) Transmit(frame []byte, _ link.Addr) error {
	if err := d.state.CheckTransmit(); err != nil {
		return err
	}
	if len(frame) > d.MTU() {
		return link.ErrFrameTooLarge
	}
	buf := make([]byte, 0, senderIDSize+len(frame))
	buf = append(buf, d.senderID[:]...)
	buf = append(buf, frame...)
	_, err := d.conn.WriteToUDP(buf, d.group)
	return err
}

// Broadcast returns the LToUDP group address; LocalTalk has no separate
// broadcast address distinct from the shared bus itself.
func (d *Driver) Broadcast() link.Addr { return link.Addr(Group) }

// MTU is the largest LLAP frame LToUDP can carry, bounded by a single
// UDP datagram minus the sender-ID prefix.
func (d *Driver) MTU() int { return maxDatagram - senderIDSize }

func (d *Driver) readLoop(ctx context.Context, handler link.Handler) {
	defer d.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.log.Debugf("ltoudp: read error: %v", err)
				continue
			}
		}
		if n < senderIDSize+minLLAPFrame {
			continue
		}
		if [senderIDSize]byte(buf[:senderIDSize]) == d.senderID {
			continue
		}

		frame := make([]byte, n-senderIDSize)
		copy(frame, buf[senderIDSize:n])
		handler(frame, link.Addr{frame[1]})
	}
}

// interfaceFor resolves addr to the net.Interface that owns it, or nil
// (any interface) if addr is empty.
func interfaceFor(addr string) (*net.Interface, error) {
	if addr == "" {
		return nil, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.String() == addr {
				return ifi, nil
			}
		}
	}
	return nil, fmt.Errorf("no local interface with address %s", addr)
}

func ifaceLabel(ifi *net.Interface) string {
	if ifi == nil {
		return "all interfaces"
	}
	return ifi.Name
}
