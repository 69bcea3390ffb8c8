// Package port implements the Port abstraction and address-acquisition
// state machine (Section 4.6): a per-port protocol that negotiates a node
// address on a shared bus, discovers whether its network is seeded or
// must be learned, and brings the port up.
package port

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/rib"
)

// Address-acquisition timing (Section 4.6, Section 7).
const (
	// ProbeInterval is a 200ms probe retransmit interval. Port does not
	// read it: each Medium's Probe applies its own timing.
	ProbeInterval = 200 * time.Millisecond
	// ProbeAttempts is a count of 10 probes per candidate. Port does not
	// read it: each Medium's Probe applies its own attempt count.
	ProbeAttempts = 10
	// StartupTimeout is how long a non-seeded port may spend discovering
	// its network before PortStartupTimeout is declared fatal.
	StartupTimeout = 60 * time.Second
	// MaxNodeCandidates bounds how many candidates a port will try before
	// giving up with AddressInUse; not named by the spec, but a FSM that
	// never terminates on a saturated segment is not acceptable.
	MaxNodeCandidates = 20
)

// Seed is the operator-provided network identity of a seeded port
// (Section 3, "Port state").
type Seed struct {
	Range       ddp.NetRange
	Zones       []rib.Name
	DefaultZone rib.Name
}

// InboundFunc is the upward callback a Port delivers decoded datagrams to
// once Online (Section 4.6's on_inbound(datagram, source_link_addr)).
type InboundFunc func(dg *ddp.Datagram, ingress rib.PortID, src link.Addr)

// StateChangeFunc notifies the owner (the Router) of FSM transitions it
// must react to: inserting/withdrawing the directly-connected route when
// a port enters/leaves Online (Section 3, "Lifecycle"), and observing a
// fatal Stopped transition.
type StateChangeFunc func(id rib.PortID, s State, fatal error)

// Config constructs a Port.
type Config struct {
	ID     rib.PortID
	Driver link.Driver
	Medium link.Medium

	// Seed is non-nil for a seeded port; nil for one that must learn its
	// network from RTMP/ZIP traffic.
	Seed *Seed

	Inbound      InboundFunc
	StateChanged StateChangeFunc

	Logger logging.LeveledLogger
}

// Port is a single network attachment point: one link driver, one framing
// Medium, and the address-acquisition FSM from Section 4.6.
type Port struct {
	cfg        Config
	log        logging.LeveledLogger
	instanceID uuid.UUID
	rng        *rand.Rand

	mu           sync.RWMutex
	state        State
	currentRange ddp.NetRange
	node         ddp.Node

	probeCh chan link.Frame
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Port in the Unstarted state. Each Port gets its own
// uuid-seeded random source rather than sharing math/rand's global one, so
// several Ports starting at once on the same process don't end up probing
// the same candidate addresses in lockstep.
func New(cfg Config) *Port {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("port")
	}
	id := uuid.New()
	seed := int64(binary.BigEndian.Uint64(id[:8]))
	return &Port{
		cfg:        cfg,
		log:        log,
		instanceID: id,
		rng:        rand.New(rand.NewSource(seed)),
		state:      Unstarted,
		probeCh:    make(chan link.Frame, 32),
		done:       make(chan struct{}),
	}
}

// ID returns the port's identifier.
func (p *Port) ID() rib.PortID { return p.cfg.ID }

// InstanceID returns the uuid generated for this Port at construction,
// used to disambiguate log lines across multiple Ports sharing an
// unscoped logger and to seed the startup-range node-candidate tie-break
// (Section 4.6 step 1).
func (p *Port) InstanceID() uuid.UUID { return p.instanceID }

// State returns the port's current FSM state.
func (p *Port) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// CurrentRange returns the network range the port has settled on. It is
// only meaningful once the state has reached AcquiringNodeAddress or
// later.
func (p *Port) CurrentRange() ddp.NetRange {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentRange
}

// Node returns the node number the port has settled on, or NodeUnknown
// before Online.
func (p *Port) Node() ddp.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.node
}

// ExtendedNetwork reports whether this port's medium carries a range of
// network numbers (Section 3).
func (p *Port) ExtendedNetwork() bool { return p.cfg.Medium.ExtendedNetwork() }

func (p *Port) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Start begins the address-acquisition FSM (Section 4.6). It launches the
// driver's read loop and the FSM goroutine, then returns immediately; the
// port reaches Online or a fatal Stopped asynchronously, reported via
// cfg.StateChanged.
func (p *Port) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Unstarted {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.state = AcquiringNetworkRange
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.cfg.Driver.Start(runCtx, p.handleFrame); err != nil {
		cancel()
		p.setState(Stopped)
		return err
	}

	go p.run(runCtx)
	return nil
}

// Stop halts the FSM and the underlying driver, waiting for the read loop
// to settle (Section 5: "each thread must reach termination within 2
// seconds of stop()").
func (p *Port) Stop() error {
	p.mu.RLock()
	already := p.state == Stopped
	p.mu.RUnlock()
	if already {
		return ErrStopped
	}
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
	}
	err := p.cfg.Driver.Stop()
	p.transitionStopped(nil)
	return err
}

func (p *Port) transitionStopped(fatal error) {
	p.mu.Lock()
	wasOnline := p.state == Online
	p.state = Stopped
	p.mu.Unlock()
	if p.cfg.StateChanged != nil && (wasOnline || fatal != nil) {
		p.cfg.StateChanged(p.cfg.ID, Stopped, fatal)
	}
}

func (p *Port) run(ctx context.Context) {
	defer close(p.done)

	netRange, err := p.acquireNetworkRange(ctx)
	if err != nil {
		p.log.Errorf("port %s (%s): failed to acquire a network range: %v", p.cfg.ID, p.instanceID, err)
		p.transitionStopped(err)
		return
	}
	p.mu.Lock()
	p.currentRange = netRange
	p.state = AcquiringNodeAddress
	p.mu.Unlock()
	settleNetwork(p.cfg.Medium, netRange.Min)
	settleNetwork(p.cfg.Driver, netRange.Min)
	p.log.Infof("port %s (%s): settled on network range %s", p.cfg.ID, p.instanceID, netRange)

	node, err := p.acquireNode(ctx, netRange)
	if err != nil {
		p.log.Errorf("port %s (%s): failed to acquire a node address: %v", p.cfg.ID, p.instanceID, err)
		p.transitionStopped(err)
		return
	}
	p.mu.Lock()
	p.node = node
	p.state = Online
	p.mu.Unlock()
	settleNode(p.cfg.Medium, node)
	settleNode(p.cfg.Driver, node)
	p.log.Infof("port %s (%s): online as node %d", p.cfg.ID, p.instanceID, node)
	if p.cfg.StateChanged != nil {
		p.cfg.StateChanged(p.cfg.ID, Online, nil)
	}

	<-ctx.Done()
}

// acquireNetworkRange implements Section 4.6 step 1.
func (p *Port) acquireNetworkRange(ctx context.Context) (ddp.NetRange, error) {
	if p.cfg.Seed != nil {
		return p.cfg.Seed.Range, nil
	}

	startupNode := ddp.Node(1 + p.rng.Intn(int(ddp.NodeBroadcast)-1))
	startupRange := ddp.NetRange{Min: ddp.StartupRangeMin, Max: ddp.StartupRangeMax}
	probe, err := p.cfg.Medium.EncodeOutbound(&ddp.Datagram{
		DestNetwork: 0,
		DestNode:    ddp.NodeBroadcast,
		DestSocket:  ddp.SocketZIP,
		SrcNetwork:  startupRange.Min,
		SrcNode:     startupNode,
		SrcSocket:   ddp.SocketZIP,
		Type:        ddp.TypeZIP,
		Payload:     []byte{zipGetNetInfo},
	}, ddp.NodeBroadcast)
	if err == nil {
		_ = p.cfg.Driver.Transmit(probe, p.cfg.Driver.Broadcast())
	}

	timeout := time.NewTimer(StartupTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return ddp.NetRange{}, ctx.Err()
		case <-timeout.C:
			return ddp.NetRange{}, ErrStartupTimeout
		case f := <-p.probeCh:
			if evidence, ok := p.evidenceOfNetwork(f); ok {
				return evidence, nil
			}
		}
	}
}

// zipGetNetInfo is the ZIP function code for GetNetInfo (Section 4.3).
// Kept local to pkg/port rather than imported from pkg/zip: a Port only
// needs to recognize the evidence, not implement the full ZIP responder,
// and pkg/zip sits above pkg/port in the dependency order (Section 2).
const zipGetNetInfo = 0x05

// evidenceOfNetwork recognizes inbound RTMP or ZIP traffic that reveals
// the true network number of a non-seeded port (Section 4.6 step 1).
func (p *Port) evidenceOfNetwork(f link.Frame) (ddp.NetRange, bool) {
	dg, err := p.cfg.Medium.DecodeInbound(f.Data, f.Src)
	if err != nil || dg == nil {
		return ddp.NetRange{}, false
	}
	if dg.DestSocket != ddp.SocketRTMP && dg.DestSocket != ddp.SocketZIP &&
		dg.SrcSocket != ddp.SocketRTMP && dg.SrcSocket != ddp.SocketZIP {
		return ddp.NetRange{}, false
	}
	if dg.SrcNetwork == 0 || dg.SrcNetwork.InStartupRange() {
		return ddp.NetRange{}, false
	}
	return ddp.NetRange{Min: dg.SrcNetwork, Max: dg.SrcNetwork}, true
}

// acquireNode implements Section 4.6 step 2.
func (p *Port) acquireNode(ctx context.Context, netRange ddp.NetRange) (ddp.Node, error) {
	tried := make(map[ddp.Node]bool)
	for attempt := 0; attempt < MaxNodeCandidates; attempt++ {
		candidate := p.randomCandidate(tried)
		tried[candidate] = true

		inUse, err := p.cfg.Medium.Probe(ctx, p.cfg.Driver, p.probeCh, netRange, candidate)
		if err != nil {
			return 0, err
		}
		if !inUse {
			return candidate, nil
		}
	}
	return 0, ErrAddressInUse
}

func (p *Port) randomCandidate(tried map[ddp.Node]bool) ddp.Node {
	for {
		n := ddp.Node(1 + p.rng.Intn(254))
		if !tried[n] {
			return n
		}
		if len(tried) >= 254 {
			return n
		}
	}
}

// settleNetwork and settleNode feed a Port's settled network/node back
// into its Medium or Driver, if either chooses to implement the optional
// link.NetworkSettler/link.NodeSettler capability (Section 4.6 step 1/2).
// LLAP's Medium needs the network to stamp short-form frames and the
// node to answer ENQ; TashTalk's Driver needs the node to program its
// firmware's acknowledge bitmap.
func settleNetwork(v any, network ddp.NetNum) {
	if ns, ok := v.(link.NetworkSettler); ok {
		ns.SetNetwork(network)
	}
}

func settleNode(v any, node ddp.Node) {
	if ns, ok := v.(link.NodeSettler); ok {
		ns.SetNode(node)
	}
}

// handleFrame is the link.Handler installed on the driver (Section 5:
// "Port read loops block on their link driver").
func (p *Port) handleFrame(frame []byte, src link.Addr) {
	state := p.State()

	if state == AcquiringNetworkRange || state == AcquiringNodeAddress {
		select {
		case p.probeCh <- link.Frame{Data: frame, Src: src}:
		default:
		}
		return
	}

	if state != Online {
		return
	}

	dg, err := p.cfg.Medium.DecodeInbound(frame, src)
	if err != nil || dg == nil {
		return
	}
	if p.cfg.Inbound != nil {
		p.cfg.Inbound(dg, p.cfg.ID, src)
	}
}

// Send transmits dg to destNode, translating it through the port's Medium
// (Section 4.6's send(datagram, next_hop)).
func (p *Port) Send(dg *ddp.Datagram, destNode ddp.Node) error {
	if p.State() != Online {
		return ErrNotOnline
	}
	frame, err := p.cfg.Medium.EncodeOutbound(dg, destNode)
	if err != nil {
		return err
	}
	return p.cfg.Driver.Transmit(frame, p.cfg.Medium.AddrForNode(destNode))
}

// Broadcast transmits dg to every node on the port's link (Section 4.6's
// broadcast(datagram)).
func (p *Port) Broadcast(dg *ddp.Datagram) error {
	if p.State() != Online {
		return ErrNotOnline
	}
	frame, err := p.cfg.Medium.EncodeOutbound(dg, ddp.NodeBroadcast)
	if err != nil {
		return err
	}
	return p.cfg.Driver.Transmit(frame, p.cfg.Driver.Broadcast())
}
