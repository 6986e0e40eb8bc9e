package fleet

import (
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/topology"
)

// Phase is the observed lifecycle position of one agent.
type Phase string

const (
	PhaseAbsent         Phase = "absent"
	PhaseCreating       Phase = "creating"
	PhaseCreated        Phase = "created"
	PhaseHealthChecking Phase = "health-checking"
	PhaseHealthy        Phase = "healthy"
	PhaseUnhealthy      Phase = "unhealthy"
	PhaseUnknown        Phase = "unknown"
	PhaseStopped        Phase = "stopped"
	PhaseRemoving       Phase = "removing"
)

// Reachability is the service-level signal, tracked apart from daemon health.
type Reachability string

const (
	ReachabilityNotChecked  Reachability = "not-checked"
	ReachabilitySkipped     Reachability = "skipped"
	ReachabilityReachable   Reachability = "reachable"
	ReachabilityUnreachable Reachability = "unreachable"
)

// AgentRecord is the reconciler's view of one fleet member.
type AgentRecord struct {
	Index       int
	Name        string
	Identity    topology.Identity
	ContainerID string
	Phase       Phase
	// Status and Health are the daemon's own strings.
	Status             string
	Health             string
	Reachability       Reachability
	ReachabilityDetail string
	Err                *AgentError
}

func (r *AgentRecord) fail(stage Stage, err error) {
	r.Err = &AgentError{Index: r.Index, Name: r.Name, Stage: stage, Err: err}
}

// State is the ordered fleet, index i at position i-1.
type State []AgentRecord

// observedPhase maps an inspected container onto a Phase without mutating anything.
func observedPhase(st controlplane.ContainerState) Phase {
	switch st.Status {
	case "created":
		return PhaseCreated
	case "exited", "dead":
		return PhaseStopped
	case "removing":
		return PhaseRemoving
	case "running", "restarting":
		switch st.Health {
		case controlplane.HealthHealthy:
			return PhaseHealthy
		case controlplane.HealthUnhealthy:
			return PhaseUnhealthy
		case controlplane.HealthStarting:
			return PhaseHealthChecking
		}
	}
	return PhaseUnknown
}
