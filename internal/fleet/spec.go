package fleet

import (
	"fmt"
	"strconv"

	"github.com/EternisAI/silo-fleet/internal/config"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/topology"
)

const (
	LabelManaged = "silo-fleet.managed"
	LabelPrefix  = "silo-fleet.prefix"
	LabelIndex   = "silo-fleet.index"
	LabelRun     = "silo-fleet.run"
)

const healthRetries = 3

// managedLabels selects every container this fleet owns, whatever its index.
func managedLabels(cfg config.EffectiveConfig) map[string]string {
	return map[string]string{
		LabelManaged: "true",
		LabelPrefix:  cfg.Fleet.Prefix,
	}
}

func networkSpec(cfg config.EffectiveConfig, runID string) (controlplane.NetworkSpec, bool) {
	n, ok := topology.NetworkFor(cfg.Topology)
	if !ok {
		return controlplane.NetworkSpec{}, false
	}
	return controlplane.NetworkSpec{
		Name:       n.Name,
		Driver:     n.Driver,
		Subnet:     n.Subnet,
		Gateway:    n.Gateway,
		Options:    n.Options,
		Attachable: n.Attachable,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelPrefix:  cfg.Fleet.Prefix,
			LabelRun:     runID,
		},
	}, true
}

// containerSpec applies the agent's identity, ceilings, restart policy and
// liveness probe to one launch request.
func containerSpec(cfg config.EffectiveConfig, index int, id topology.Identity, runID string) controlplane.ContainerSpec {
	name := cfg.AgentName(index)
	labels := managedLabels(cfg)
	labels[LabelIndex] = strconv.Itoa(index)
	labels[LabelRun] = runID

	spec := controlplane.ContainerSpec{
		Name:     name,
		Image:    cfg.Fleet.Image,
		Hostname: name,
		Labels:   labels,
		Env: []string{
			"AGENT_NAME=" + name,
			"AGENT_INDEX=" + strconv.Itoa(index),
			"SSH_USER=" + cfg.SSH.User,
		},
		MemoryBytes:   cfg.Fleet.MemoryBytes,
		CPUShares:     cfg.Fleet.CPUShares,
		RestartPolicy: cfg.Fleet.RestartPolicy,
		HealthCheck: &controlplane.HealthCheck{
			Command:     []string{"CMD-SHELL", fmt.Sprintf("nc -z localhost %d || exit 1", cfg.Topology.ServicePort)},
			Interval:    cfg.Health.Interval,
			Timeout:     cfg.Health.Interval,
			StartPeriod: cfg.Health.StartDelay,
			Retries:     healthRetries,
		},
	}

	switch v := id.(type) {
	case topology.StaticAddress:
		spec.NetworkMode = cfg.Topology.NetworkName
		spec.IPv4Address = v.Addr.String()
	case topology.MappedPort:
		spec.NetworkMode = cfg.Topology.NetworkName
		spec.IPv4Address = v.Addr.String()
		spec.PortBindings = []controlplane.PortBinding{{HostPort: v.HostPort, ContainerPort: v.ContainerPort}}
	case topology.HostNetwork:
		spec.NetworkMode = "host"
	}
	return spec
}
