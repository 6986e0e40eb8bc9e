package topology

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Identity is the resolved addressing of one agent. It is one of StaticAddress,
// MappedPort or HostNetwork.
type Identity interface {
	isIdentity()
	String() string
}

// StaticAddress is a directly reachable address inside the topology subnet.
type StaticAddress struct {
	Addr netip.Addr
}

// MappedPort is an address on an isolated network plus the host port that publishes
// the agent's service port.
type MappedPort struct {
	Addr          netip.Addr
	HostPort      int
	ContainerPort int
}

// HostNetwork means the agent shares the daemon host's network stack.
type HostNetwork struct{}

func (StaticAddress) isIdentity() {}
func (MappedPort) isIdentity()    {}
func (HostNetwork) isIdentity()   {}

func (s StaticAddress) String() string { return s.Addr.String() }

func (m MappedPort) String() string {
	return fmt.Sprintf("%s (host:%d->%d)", m.Addr, m.HostPort, m.ContainerPort)
}

func (HostNetwork) String() string { return "host-network" }

// Endpoint returns the host:port a reachability check should dial for the identity.
// Host-networked agents share one port and are not probed individually.
func Endpoint(id Identity, daemonHost string, servicePort int) (string, bool) {
	switch v := id.(type) {
	case StaticAddress:
		return net.JoinHostPort(v.Addr.String(), strconv.Itoa(servicePort)), true
	case MappedPort:
		return net.JoinHostPort(daemonHost, strconv.Itoa(v.HostPort)), true
	}
	return "", false
}
