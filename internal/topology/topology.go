package topology

import (
	"fmt"
	"net/netip"
	"strings"
)

// Kind selects how fleet agents obtain their network identity.
type Kind string

const (
	KindMacvlan Kind = "macvlan"
	KindBridge  Kind = "bridge"
	KindOverlay Kind = "overlay"
	KindHost    Kind = "host"
)

// overlayOffset is the first host octet handed out on an overlay network.
const overlayOffset = 10

var kindAliases = map[string]Kind{
	"macvlan":            KindMacvlan,
	"addressed-subnet":   KindMacvlan,
	"bridge":             KindBridge,
	"isolated-bridge":    KindBridge,
	"overlay":            KindOverlay,
	"multi-host-overlay": KindOverlay,
	"host":               KindHost,
	"shared-host":        KindHost,
}

// ParseKind maps a configured topology name onto a Kind.
func ParseKind(name string) (Kind, error) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unsupported topology %q (valid: macvlan, bridge, overlay, host)", name)
	}
	return kind, nil
}

// Config carries the topology parameters of one fleet.
type Config struct {
	Kind            Kind
	NetworkName     string
	Subnet          netip.Prefix
	Gateway         netip.Addr
	ParentInterface string
	RangeStart      int
	PortBase        int
	ServicePort     int
	FleetSize       int
}

// Resolve returns the network identity of the agent at index (1-based).
// The kind must already have been validated; an index outside 1..FleetSize panics.
func Resolve(cfg Config, index int) Identity {
	mustIndex(cfg, index)

	switch cfg.Kind {
	case KindMacvlan:
		return StaticAddress{Addr: hostAddr(cfg.Subnet, cfg.RangeStart+index-1)}
	case KindBridge:
		return MappedPort{
			Addr:          hostAddr(cfg.Subnet, cfg.RangeStart+index-1),
			HostPort:      cfg.PortBase + index,
			ContainerPort: cfg.ServicePort,
		}
	case KindOverlay:
		return StaticAddress{Addr: hostAddr(cfg.Subnet, overlayOffset+index-1)}
	case KindHost:
		return HostNetwork{}
	}
	panic(fmt.Sprintf("topology: unsupported kind %q", cfg.Kind))
}

// Mapping is a host port published for a container port.
type Mapping struct {
	HostPort      int
	ContainerPort int
}

// PortMapping returns the published port for the agent at index, if the kind publishes one.
func PortMapping(cfg Config, index int) (Mapping, bool) {
	if mp, ok := Resolve(cfg, index).(MappedPort); ok {
		return Mapping{HostPort: mp.HostPort, ContainerPort: mp.ContainerPort}, true
	}
	return Mapping{}, false
}

// LastOffset is the highest last-octet value handed out for a fleet of cfg.FleetSize,
// or 0 when the kind assigns no addresses.
func LastOffset(cfg Config) int {
	switch cfg.Kind {
	case KindMacvlan, KindBridge:
		return cfg.RangeStart + cfg.FleetSize - 1
	case KindOverlay:
		return overlayOffset + cfg.FleetSize - 1
	}
	return 0
}

// LastHostPort is the highest host port published for the fleet, or 0.
func LastHostPort(cfg Config) int {
	if cfg.Kind == KindBridge {
		return cfg.PortBase + cfg.FleetSize
	}
	return 0
}

func hostAddr(subnet netip.Prefix, octet int) netip.Addr {
	a := subnet.Addr().As4()
	a[3] = byte(octet)
	return netip.AddrFrom4(a)
}

func mustIndex(cfg Config, index int) {
	if index < 1 || index > cfg.FleetSize {
		panic(fmt.Sprintf("topology: agent index %d outside 1..%d", index, cfg.FleetSize))
	}
}
