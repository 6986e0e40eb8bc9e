package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/EternisAI/silo-fleet/internal/topology"
)

// EffectiveConfig is the resolved, read-only settings snapshot for one invocation.
// It is passed by value and never modified after Resolve returns it.
type EffectiveConfig struct {
	Env      string
	Daemon   DaemonConfig
	TLS      TLSConfig
	Topology topology.Config
	Fleet    FleetConfig
	Health   HealthConfig
	SSH      SSHConfig
	Log      LogConfig
	API      APIConfig
}

type DaemonConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

type TLSConfig struct {
	Enabled        bool
	CertDir        string
	CAFile         string
	CertFile       string
	KeyFile        string
	ExpiryWarnDays int
	// ServerName overrides the name verified against the daemon certificate.
	// Empty means DaemonHost.
	ServerName string
}

type FleetConfig struct {
	Size           int
	Prefix         string
	Image          string
	MemoryBytes    int64
	CPUShares      int64
	RestartPolicy  string
	LaunchAttempts int
	Concurrency    int
	BuildContext   string
}

type HealthConfig struct {
	StartDelay          time.Duration
	Attempts            int
	Interval            time.Duration
	ReachabilityTimeout time.Duration
	RequireReachable    bool
}

type SSHConfig struct {
	KeyPath string
	User    string
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	Port      int
	AdminKey  string
	JWTSecret string
}

// DaemonAddress is the host:port of the control-plane endpoint.
func (c EffectiveConfig) DaemonAddress() string {
	return net.JoinHostPort(c.Daemon.Host, strconv.Itoa(c.Daemon.Port))
}

// AgentName derives the container name of the agent at index.
func (c EffectiveConfig) AgentName(index int) string {
	return c.Fleet.Prefix + strconv.Itoa(index)
}

// CAPath, CertPath and KeyPath locate the certificate bundle files.
func (t TLSConfig) CAPath() string   { return t.path(t.CAFile) }
func (t TLSConfig) CertPath() string { return t.path(t.CertFile) }
func (t TLSConfig) KeyPath() string  { return t.path(t.KeyFile) }

func (t TLSConfig) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(t.CertDir, name)
}
