// Package config loads a static RouterConfig from YAML: an ordered port
// list naming each port's link type, its seed network range/zone (if
// seeded), and the link-specific fields each driver needs to start
// (Section: Part B "Configuration"). Programmatic construction via
// router.New remains the primary entry surface; this is a CLI convenience
// layered on top of it.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/tashrouter/tashrouter/pkg/ddp"
	"github.com/tashrouter/tashrouter/pkg/link"
	"github.com/tashrouter/tashrouter/pkg/link/ethertalk"
	"github.com/tashrouter/tashrouter/pkg/link/llap"
	"github.com/tashrouter/tashrouter/pkg/link/ltoudp"
	"github.com/tashrouter/tashrouter/pkg/link/tashtalk"
	"github.com/tashrouter/tashrouter/pkg/port"
	"github.com/tashrouter/tashrouter/pkg/rib"
	"github.com/tashrouter/tashrouter/pkg/router"
)

// LinkType names one of the three link-driver families a PortConfig can
// select (Section 6).
type LinkType string

// The three link-driver families this router ships.
const (
	LinkLToUDP    LinkType = "ltoudp"
	LinkTashTalk  LinkType = "tashtalk"
	LinkEtherTalk LinkType = "ethertalk"
)

// SeedConfig is the YAML shape of a seeded port's network identity
// (Section 3, "Port state"; mirrors port.Seed).
type SeedConfig struct {
	RangeMin    uint16   `yaml:"range_min"`
	RangeMax    uint16   `yaml:"range_max"`
	Zones       []string `yaml:"zones,omitempty"`
	DefaultZone string   `yaml:"default_zone,omitempty"`
}

// PortConfig describes one port the router should own and bring up. Only
// the fields relevant to Link are read; the rest are ignored.
type PortConfig struct {
	ID   string   `yaml:"id"`
	Link LinkType `yaml:"link"`

	// InterfaceAddr is read for link: ltoudp.
	InterfaceAddr string `yaml:"interface_addr,omitempty"`
	// Device is read for link: tashtalk.
	Device string `yaml:"device,omitempty"`
	// Interface is read for link: ethertalk.
	Interface string `yaml:"interface,omitempty"`

	// Seed is omitted for a port that must learn its network from
	// RTMP/ZIP traffic.
	Seed *SeedConfig `yaml:"seed,omitempty"`
}

// RouterConfig is the top-level YAML document cmd/tashrouter reads.
type RouterConfig struct {
	Ports []PortConfig `yaml:"ports"`
}

// Load reads and parses a RouterConfig from path.
func Load(path string) (*RouterConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &RouterConfig{}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// errUnknownLinkType builds the error BuildPorts returns when a PortConfig
// names a Link value other than the three this router ships.
var errUnknownLinkType = func(l LinkType) error {
	return fmt.Errorf("config: unknown link type %q", l)
}

// BuildPorts turns each PortConfig into a router.PortSpec: constructing
// the named link.Driver, its matching link.Medium, and (if seeded) a
// port.Seed. Logging for each port is left to router.New's own
// "port.<id>" scoping.
func (c *RouterConfig) BuildPorts() ([]router.PortSpec, error) {
	specs := make([]router.PortSpec, 0, len(c.Ports))
	for _, pc := range c.Ports {
		driver, medium, err := buildLink(pc)
		if err != nil {
			return nil, fmt.Errorf("config: port %s: %w", pc.ID, err)
		}
		spec := router.PortSpec{
			ID:     rib.PortID(pc.ID),
			Driver: driver,
			Medium: medium,
		}
		if pc.Seed != nil {
			spec.Seed = seedFromConfig(pc.Seed)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildLink(pc PortConfig) (link.Driver, link.Medium, error) {
	switch pc.Link {
	case LinkLToUDP:
		return ltoudp.New(ltoudp.Config{InterfaceAddr: pc.InterfaceAddr}), llap.NewMedium(), nil
	case LinkTashTalk:
		return tashtalk.New(tashtalk.Config{Device: pc.Device}), llap.NewMedium(), nil
	case LinkEtherTalk:
		ifi, err := net.InterfaceByName(pc.Interface)
		if err != nil {
			return nil, nil, fmt.Errorf("interface %s: %w", pc.Interface, err)
		}
		if len(ifi.HardwareAddr) != 6 {
			return nil, nil, fmt.Errorf("interface %s has no Ethernet hardware address", pc.Interface)
		}
		var hwAddr [6]byte
		copy(hwAddr[:], ifi.HardwareAddr)
		return ethertalk.New(ethertalk.Config{Interface: pc.Interface}), ethertalk.NewMedium(hwAddr), nil
	default:
		return nil, nil, errUnknownLinkType(pc.Link)
	}
}

func seedFromConfig(sc *SeedConfig) *port.Seed {
	zones := make([]rib.Name, 0, len(sc.Zones))
	for _, z := range sc.Zones {
		zones = append(zones, rib.Name(z))
	}
	return &port.Seed{
		Range:       ddp.NetRange{Min: ddp.NetNum(sc.RangeMin), Max: ddp.NetNum(sc.RangeMax)},
		Zones:       zones,
		DefaultZone: rib.Name(sc.DefaultZone),
	}
}
