package ethertalk

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/tashrouter/tashrouter/pkg/link"
)

// mtu is the largest 802.2/SNAP frame (after the 14-byte Ethernet header)
// this Driver will relay; comfortably above a long-form DDP datagram's
// worst case plus its 8-byte SNAP framing.
const mtu = 1492

// Config constructs a Driver.
type Config struct {
	// Interface is the Ethernet interface name to bind to, e.g. "eth0".
	Interface string

	Logger logging.LeveledLogger
}

// Driver is a link.Driver that moves raw 802.2/SNAP frames over an
// AF_PACKET socket bound to a single Ethernet interface (Section 6). It
// knows nothing about AppleTalk or AARP framing; that is pkg/link/ethertalk's
// Medium's job.
type Driver struct {
	state link.BaseState
	log   logging.LeveledLogger

	ifaceName string
	hwAddr    [6]byte

	mu   sync.Mutex
	fd   int
	ifi  *net.Interface
	sll  unix.SockaddrLinklayer
	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Driver bound to the named interface. The socket is not
// opened until Start.
func New(cfg Config) *Driver {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("link.ethertalk")
	}
	return &Driver{ifaceName: cfg.Interface, log: log, fd: -1}
}

// HWAddr returns the interface's hardware address, valid once Start has
// succeeded. A Medium built via NewMedium wants this at construction time,
// so callers typically resolve it with net.InterfaceByName themselves
// before wiring Driver and Medium together; HWAddr is provided for
// diagnostics and symmetry with the other link-driver packages.
func (d *Driver) HWAddr() [6]byte { return d.hwAddr }

// Start opens an AF_PACKET raw socket bound to the configured interface,
// attaches a classic BPF filter admitting only 802.2 LLC frames (so the
// read loop never wastes a syscall copying ordinary Ethernet II traffic
// into user space), and begins the read loop.
func (d *Driver) Start(ctx context.Context, handler link.Handler) error {
	if err := d.state.CheckStart(); err != nil {
		return err
	}

	ifi, err := net.InterfaceByName(d.ifaceName)
	if err != nil {
		return fmt.Errorf("ethertalk: %w", err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return fmt.Errorf("ethertalk: %s has no Ethernet hardware address", d.ifaceName)
	}
	copy(d.hwAddr[:], ifi.HardwareAddr)
	d.ifi = ifi

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return fmt.Errorf("ethertalk: socket: %w", err)
	}

	filter, err := llcFilterProgram()
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("ethertalk: assemble filter: %w", err)
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, filter); err != nil {
		unix.Close(fd)
		return fmt.Errorf("ethertalk: attach filter: %w", err)
	}

	sll := unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: ifi.Index}
	if err := unix.Bind(fd, &sll); err != nil {
		unix.Close(fd)
		return fmt.Errorf("ethertalk: bind %s: %w", d.ifaceName, err)
	}

	d.mu.Lock()
	d.fd = fd
	d.sll = sll
	d.stop = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.readLoop(handler)

	d.log.Infof("ethertalk: attached %s (%s)", d.ifaceName, macString(d.hwAddr))
	return nil
}

// Stop closes the raw socket and waits for the read loop to exit.
func (d *Driver) Stop() error {
	if err := d.state.CheckStop(); err != nil {
		return err
	}
	d.mu.Lock()
	fd := d.fd
	stop := d.stop
	d.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	err := unix.Close(fd)
	d.wg.Wait()
	return err
}

// Transmit writes frame (a complete Ethernet frame, header included) to
// the raw socket. dest is ignored: the destination MAC is already the
// frame's first six bytes, composed by the Medium.
func (d *Driver) Transmit(frame []byte, _ link.Addr) error {
	if err := d.state.CheckTransmit(); err != nil {
		return err
	}
	if len(frame) > d.MTU()+14 {
		return link.ErrFrameTooLarge
	}
	d.mu.Lock()
	fd, sll := d.fd, d.sll
	d.mu.Unlock()
	return unix.Sendto(fd, frame, 0, &sll)
}

// Broadcast returns the EtherTalk link-layer broadcast address.
func (d *Driver) Broadcast() link.Addr { return link.Addr(BroadcastMAC[:]) }

// MTU returns the largest 802.2/SNAP payload (excluding the 14-byte
// Ethernet header) this Driver will relay.
func (d *Driver) MTU() int { return mtu }

func (d *Driver) readLoop(handler link.Handler) {
	defer d.wg.Done()
	buf := make([]byte, 65536)
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()
	for {
		n, _, err := unix.Recvfrom(fd, buf, 0)
		select {
		case <-d.stop:
			return
		default:
		}
		if err != nil {
			d.log.Debugf("ethertalk: read error: %v", err)
			continue
		}
		if n < 22 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		var src [6]byte
		copy(src[:], frame[6:12])
		handler(frame, link.Addr(src[:]))
	}
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

func macString(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// llcFilterProgram assembles a classic BPF program admitting only frames
// whose 802.3 length field (offset 12) is a real IEEE 802.3 length (not an
// Ethernet II EtherType, i.e. <= 1500), which carry the 802.2 LLC header this
// package frames AARP and AppleTalk traffic with (Section 6), and whose SNAP
// protocol ID (offset 20) is one of the two this package understands
// (0x809B AppleTalk, 0x80F3 AARP) — anything else riding on the same LLC/SNAP
// encapsulation is dropped in-kernel rather than copied into user space.
func llcFilterProgram() (*unix.SockFprog, error) {
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpGreaterThan, Val: 1500, SkipTrue: 8},
		bpf.LoadAbsolute{Off: 14, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0xAAAA, SkipTrue: 6},
		bpf.LoadAbsolute{Off: 16, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0x03, SkipTrue: 4},
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x809B, SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0x80F3, SkipTrue: 1},
		bpf.RetConstant{Val: 65536},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return nil, err
	}
	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return &unix.SockFprog{Len: uint16(len(filters)), Filter: &filters[0]}, nil
}
