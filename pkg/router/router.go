// Package router implements the Router coordinator (Section 4.7): the
// process-wide singleton owning the port list, the RIB, the ZIB, and the
// static-socket dispatch table, providing inbound dispatch, outbound
// dispatch, and the start()/stop() lifecycle every other component hangs
// off of.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/echo"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/nbp"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
	"github.com/tashrouter/tashrouter/pkg/rtmp"
	"github.com/tashrouter/tashrouter/pkg/socket"
	"github.com/tashrouter/tashrouter/pkg/zip"
)

// AgeInterval is how often the Router sweeps the RIB's ageing state
// machine (Section 4.2: "a periodic ager runs every 20 seconds").
const AgeInterval = 20 * time.Second

// PortSpec describes one Port the Router should own and bring up. It is
// everything port.Config needs except the Inbound/StateChanged callbacks,
// which the Router supplies itself so every port's traffic and lifecycle
// transitions flow through one coordinator (Section 4.7).
type PortSpec struct {
	ID     rib.PortID
	Driver link.Driver
	Medium link.Medium
	Seed   *port.Seed
	Logger logging.LeveledLogger
}

// Config constructs a Router.
type Config struct {
	Ports []PortSpec

	// LoggerFactory scopes a logging.LeveledLogger per component
	// ("router", "service.rtmp", "service.zip", ...), matching the
	// teacher's pkg/matter.Node (Section: Part B, Logging).
	LoggerFactory logging.LoggerFactory
}

// Router is the process-wide coordinator described in Section 4.7.
type Router struct {
	log logging.LeveledLogger

	ports   *port.Set
	rt      *rib.Table
	zt      *rib.ZoneTable
	sockets *socket.Table

	seeds map[rib.PortID]*port.Seed

	queryTracker *zip.QueryTracker
	rtmpSender   *rtmp.Sender
	zipSender    *zip.Sender

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Router owning the ports described by cfg.Ports and
// registers the four reactive services (RTMP, ZIP, NBP, Echo) on their
// static sockets. The Router does not start anything; call Start.
func New(cfg Config) *Router {
	factory := cfg.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}

	r := &Router{
		log:     factory.NewLogger("router"),
		ports:   port.NewSet(),
		rt:      rib.New(),
		zt:      rib.NewZoneTable(),
		sockets: socket.NewTable(),
		seeds:   make(map[rib.PortID]*port.Seed),
	}

	r.queryTracker = zip.NewQueryTracker()
	r.rtmpSender = rtmp.NewSender(r.rt, r.ports, factory.NewLogger("service.rtmp"))
	r.zipSender = zip.NewSender(r.rt, r.zt, r.ports, r.queryTracker, factory.NewLogger("service.zip"))

	rtmpResponder := rtmp.NewResponder(r.rt, r.ports, r, factory.NewLogger("service.rtmp"))
	zipResponder := zip.NewResponder(r.rt, r.zt, r.ports, r.queryTracker, factory.NewLogger("service.zip"))
	nbpResponder := nbp.NewResponder(r.rt, r.zt, r.ports, r, factory.NewLogger("service.nbp"))
	echoResponder := echo.NewResponder(r.ports, factory.NewLogger("service.echo"))

	r.sockets.Register(rtmp.StaticSocket, rtmpResponder.HandleInbound)
	r.sockets.Register(zip.StaticSocket, zipResponder.HandleInbound)
	r.sockets.Register(nbp.StaticSocket, nbpResponder.HandleInbound)
	r.sockets.Register(echo.StaticSocket, echoResponder.HandleInbound)

	for _, spec := range cfg.Ports {
		log := spec.Logger
		if log == nil {
			log = factory.NewLogger(fmt.Sprintf("port.%s", spec.ID))
		}
		p := port.New(port.Config{
			ID:           spec.ID,
			Driver:       spec.Driver,
			Medium:       spec.Medium,
			Seed:         spec.Seed,
			Inbound:      r.handleInbound,
			StateChanged: r.handlePortStateChange,
			Logger:       log,
		})
		r.ports.Add(p)
		if spec.Seed != nil {
			r.seeds[spec.ID] = spec.Seed
		}
	}

	return r
}

// Start brings up every owned Port and launches the periodic services
// (RTMP sender, ZIP sender, ager) (Section 4.7, Section 5). Ports reach
// Online asynchronously; Start itself only fails if a port's driver
// refuses to start.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	for _, p := range r.ports.All() {
		if err := p.Start(runCtx); err != nil {
			cancel()
			r.mu.Lock()
			r.cancel = nil
			r.mu.Unlock()
			return fmt.Errorf("router: start port %s: %w", p.ID(), err)
		}
	}

	r.wg.Add(3)
	go func() { defer r.wg.Done(); r.rtmpSender.Run(runCtx) }()
	go func() { defer r.wg.Done(); r.zipSender.Run(runCtx) }()
	go func() { defer r.wg.Done(); r.ageLoop(runCtx) }()

	return nil
}

// Stop signals every port and periodic service to terminate and waits
// for them to settle (Section 4.7, Section 5: "each thread must reach
// termination within 2 seconds of stop()" — enforced by Port.Stop
// itself).
func (r *Router) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return ErrNotStarted
	}

	cancel()
	r.wg.Wait()
	r.queryTracker.Close()

	for _, p := range r.ports.All() {
		if p.State() != port.Stopped {
			if err := p.Stop(); err != nil {
				r.log.Debugf("router: stop port %s: %v", p.ID(), err)
			}
		}
	}
	return nil
}

// ageLoop periodically sweeps the RIB's ageing state machine, removing
// the corresponding ZIB entry for any route that is fully removed
// (Section 3, "Lifecycle": "Zone entries ... removed together with their
// last reaching route").
func (r *Router) ageLoop(ctx context.Context) {
	ticker := time.NewTicker(AgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range r.rt.Age(time.Now()) {
				if t.Removed {
					r.zt.Remove(t.Route.Range)
					r.log.Infof("router: route %v aged out", t.Route.Range)
				} else {
					r.log.Infof("router: route %v -> %s", t.Route.Range, t.Route.State)
				}
			}
		}
	}
}

// Ports returns the Router's port set, for introspection by callers such
// as cmd/tashrouter's status output and integration tests.
func (r *Router) Ports() *port.Set { return r.ports }

// RIB returns the Router's routing table.
func (r *Router) RIB() *rib.Table { return r.rt }

// ZIB returns the Router's zone table.
func (r *Router) ZIB() *rib.ZoneTable { return r.zt }

// RouteOut implements rtmp.Outbound and nbp.Outbound: the generic
// forwarding entry point for a datagram a Service originates itself
// rather than one arriving on a Port (Section 4.7's "route_out(datagram)
// for services that originate traffic"). It resolves dg's destination
// network against the RIB and hands it to the resolved egress port.
func (r *Router) RouteOut(dg *ddp.Datagram) error {
	route, ok := r.rt.Lookup(dg.DestNetwork)
	if !ok {
		return ddp.ErrNoRoute
	}
	egress, ok := r.ports.Get(route.Port)
	if !ok {
		return ddp.ErrNoRoute
	}
	destNode := dg.DestNode
	if !route.Direct() {
		destNode = route.NextNode
	}
	return egress.Send(dg, destNode)
}
