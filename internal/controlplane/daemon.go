package controlplane

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrImageNotFound = errors.New("image not found")
)

// Daemon is the subset of the container-engine API the orchestrator drives.
// Calls take typed requests; implementations classify failures with
// ErrNotFound, ErrAlreadyExists and ErrImageNotFound.
type Daemon interface {
	Version(ctx context.Context) (VersionInfo, error)

	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, spec NetworkSpec) error
	RemoveNetwork(ctx context.Context, name string) error

	// FindContainer returns nil without error when no container has the name.
	FindContainer(ctx context.Context, name string) (*ContainerSummary, error)
	ListManaged(ctx context.Context, labels map[string]string) ([]ContainerSummary, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, grace time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (ContainerState, error)

	BuildImage(ctx context.Context, contextDir, tag string) error

	Close() error
}

type VersionInfo struct {
	Version    string
	APIVersion string
	OS         string
	Arch       string
}

type NetworkSpec struct {
	Name       string
	Driver     string
	Subnet     string
	Gateway    string
	Options    map[string]string
	Labels     map[string]string
	Attachable bool
}

type PortBinding struct {
	HostPort      int
	ContainerPort int
}

// HealthCheck is the liveness probe the daemon runs inside the container.
type HealthCheck struct {
	Command     []string
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

type ContainerSpec struct {
	Name     string
	Image    string
	Hostname string
	Labels   map[string]string
	Env      []string

	// NetworkMode is "host" or the name of the network to attach to.
	NetworkMode string
	// IPv4Address is the static address on NetworkMode, if any.
	IPv4Address  string
	PortBindings []PortBinding

	MemoryBytes   int64
	CPUShares     int64
	RestartPolicy string
	HealthCheck   *HealthCheck
}

type ContainerSummary struct {
	ID     string
	Name   string
	State  string
	Status string
	Labels map[string]string
}

// ContainerState is the inspected runtime state. Health is empty when the
// container has no health check.
type ContainerState struct {
	ID      string
	Status  string
	Running bool
	Health  string
}

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthStarting  = "starting"
)
