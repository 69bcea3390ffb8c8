// Package tashtalk implements a link.Driver for LocalTalk carried over a
// TashTalk firmware's serial interface (Section 6): a USB-to-LocalTalk
// adapter that does the real bus-level bit banging and talks to the host
// over a simple byte-stuffed serial protocol.
package tashtalk

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/link/llap"
)

// Wire protocol constants (Section 6). Outbound packets are framed
// unescaped (0x01 marker, raw LLAP frame, two FCS bytes); only the
// firmware's replies back to the host use 0x00-byte-stuffing, since only
// the firmware needs to interleave out-of-band status bytes with frame
// data on that direction.
const (
	baudRate = 1000000

	frameMarker  = 0x01
	escapeByte   = 0x00
	literalZero  = 0xFF
	frameTrailer = 0xFD

	minFrameLen = 5
	readBufCap  = 605

	// MTU bounds the LLAP payload TashTalk's firmware will relay; chosen
	// comfortably above a long-form DDP datagram's worst case.
	MTU = 605
)

// Config constructs a Driver.
type Config struct {
	// Device is the serial device path, e.g. "/dev/ttyUSB0".
	Device string

	Logger logging.LeveledLogger
}

// Driver is a link.Driver backed by a TashTalk adapter's serial port.
type Driver struct {
	state link.BaseState
	log   logging.LeveledLogger

	device string

	mu   sync.Mutex
	file *os.File

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Driver. The serial port is not opened until Start.
func New(cfg Config) *Driver {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("link.tashtalk")
	}
	return &Driver{device: cfg.Device, log: log}
}

// Start opens the serial device, configures it for TashTalk (1,000,000
// baud, RTS/CTS hardware flow control), resets the firmware to a known
// state, and begins the read loop.
func (d *Driver) Start(ctx context.Context, handler link.Handler) error {
	if err := d.state.CheckStart(); err != nil {
		return err
	}

	f, err := openSerial(d.device)
	if err != nil {
		return fmt.Errorf("tashtalk: open %s: %w", d.device, err)
	}
	d.file = f

	reset := make([]byte, 0, 1024+len(nodeAddressBitmapCmd(nil))+2)
	reset = append(reset, make([]byte, 1024)...) // flush any partial state
	reset = append(reset, nodeAddressBitmapCmd(nil)...)
	reset = append(reset, 0x03, 0x00) // disable optional firmware features
	if _, err := d.file.Write(reset); err != nil {
		d.file.Close()
		return fmt.Errorf("tashtalk: reset %s: %w", d.device, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.readLoop(runCtx, handler)

	d.log.Infof("tashtalk: attached %s", d.device)
	return nil
}

// Stop closes the serial port and waits for the read loop to exit.
func (d *Driver) Stop() error {
	if err := d.state.CheckStop(); err != nil {
		return err
	}
	if d.cancel != nil {
		d.cancel()
	}
	err := d.file.Close()
	d.wg.Wait()
	return err
}

// Transmit frames an outbound LLAP frame for the wire: a leading marker
// byte, the frame itself, and its two-byte FCS (Section 6). dest is
// ignored: TashTalk has no unicast addressing below the LLAP header it
// is handed.
func (d *Driver) Transmit(frame []byte, _ link.Addr) error {
	if err := d.state.CheckTransmit(); err != nil {
		return err
	}
	if len(frame) > d.MTU() {
		return link.ErrFrameTooLarge
	}
	fcs := llap.NewFCS()
	fcs.Feed(frame)

	packet := make([]byte, 0, 1+len(frame)+2)
	packet = append(packet, frameMarker)
	packet = append(packet, frame...)
	packet = append(packet, fcs.Byte1(), fcs.Byte2())

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.file.Write(packet)
	return err
}

// Broadcast returns the LLAP broadcast node; TashTalk has no link address
// distinct from the AppleTalk node number itself.
func (d *Driver) Broadcast() link.Addr { return link.Addr{0xFF} }

// MTU returns the largest LLAP frame this Driver will relay.
func (d *Driver) MTU() int { return MTU }

// SetNode implements link.NodeSettler: it programs the firmware's node
// address bitmap so it acknowledges RTS/ENQ for our settled node
// directly in hardware, without the host ever seeing the challenge
// (Section 4.6 step 2; the original disables software ENQ response for
// TashTalk ports for exactly this reason).
func (d *Driver) SetNode(node ddp.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return
	}
	if _, err := d.file.Write(nodeAddressBitmapCmd([]ddp.Node{node})); err != nil {
		d.log.Warnf("tashtalk: program node address %d: %v", node, err)
	}
}

// nodeAddressBitmapCmd builds the firmware command that sets the node
// address acknowledge bitmap to exactly the given nodes (no nodes zeroes
// it out, disabling all RTS/ENQ acknowledgement).
func nodeAddressBitmapCmd(nodes []ddp.Node) []byte {
	cmd := make([]byte, 33)
	cmd[0] = 0x02
	for _, n := range nodes {
		byteIdx, bit := n/8, n%8
		cmd[1+byteIdx] |= 1 << bit
	}
	return cmd
}

// readLoop implements the firmware-to-host framing: 0x00 escapes the next
// byte (0xFF means a literal 0x00 byte; 0xFD ends a frame, validated
// against the running FCS and a minimum buffered length).
func (d *Driver) readLoop(ctx context.Context, handler link.Handler) {
	defer d.wg.Done()

	fcs := llap.NewFCS()
	buf := make([]byte, readBufCap)
	n := 0
	escaped := false

	raw := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		read, err := d.file.Read(raw)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.log.Debugf("tashtalk: read error: %v", err)
				return
			}
		}

		for _, b := range raw[:read] {
			switch {
			case !escaped && b == escapeByte:
				escaped = true
				continue
			case escaped:
				escaped = false
				if b == literalZero {
					b = 0x00
				} else {
					if b == frameTrailer && fcs.IsOkay() && n >= minFrameLen {
						frame := make([]byte, n-2)
						copy(frame, buf[:n-2])
						handler(frame, link.Addr{})
					}
					fcs.Reset()
					n = 0
					continue
				}
			}
			if n < len(buf) {
				fcs.FeedByte(b)
				buf[n] = b
				n++
			}
		}
	}
}
