package fleet

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Operation string

const (
	OperationStart   Operation = "start"
	OperationStop    Operation = "stop"
	OperationStatus  Operation = "status"
	OperationRestart Operation = "restart"
)

// Stage names the pipeline step at which an agent failed.
type Stage string

const (
	StageNetwork      Stage = "network"
	StageRemove       Stage = "remove"
	StageLaunch       Stage = "launch"
	StageHealth       Stage = "health"
	StageReachability Stage = "reachability"
	StageStop         Stage = "stop"
	StageInspect      Stage = "inspect"
	StagePrune        Stage = "prune"
)

// AgentError is a failure recorded against one index. Index 0 means the
// fleet-wide network resource.
type AgentError struct {
	Index int
	Name  string
	Stage Stage
	Err   error
}

func (e *AgentError) Error() string {
	if e.Index == 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("agent %d (%s) %s: %v", e.Index, e.Name, e.Stage, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// FleetError is returned when at least one agent did not converge.
type FleetError struct {
	Operation Operation
	Failures  []*AgentError
}

func (e *FleetError) Error() string {
	seen := map[int]bool{}
	var indices []string
	for _, f := range e.Failures {
		if f.Index > 0 && !seen[f.Index] {
			seen[f.Index] = true
			indices = append(indices, strconv.Itoa(f.Index))
		}
	}
	if len(indices) == 0 {
		return fmt.Sprintf("%s failed: %v", e.Operation, e.Failures[0])
	}
	return fmt.Sprintf("%s did not converge for agents %s", e.Operation, strings.Join(indices, ", "))
}

func (e *FleetError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Report is the aggregate outcome of one fleet operation. It always lists every index.
type Report struct {
	RunID      string
	Operation  Operation
	StartedAt  time.Time
	FinishedAt time.Time
	Agents     State
	// Pruned names surplus agents removed because the fleet shrank.
	Pruned []string
	// Errors not tied to a current index: pruning, network removal, the
	// stop phase of a restart.
	Errors   []*AgentError
	Warnings []string

	requireReachable bool
}

// Converged reports whether rec reached the terminal state the operation expects.
func (r *Report) Converged(rec AgentRecord) bool {
	switch r.Operation {
	case OperationStart, OperationRestart, OperationStatus:
		if rec.Phase != PhaseHealthy {
			return false
		}
		if r.requireReachable && rec.Reachability == ReachabilityUnreachable {
			return false
		}
		return rec.Err == nil
	case OperationStop:
		return rec.Phase == PhaseAbsent
	}
	return rec.Err == nil
}

// Err returns a *FleetError naming every failed index, or nil.
func (r *Report) Err() error {
	var failures []*AgentError
	for _, rec := range r.Agents {
		if r.Converged(rec) {
			continue
		}
		if rec.Err != nil {
			failures = append(failures, rec.Err)
			continue
		}
		failures = append(failures, &AgentError{
			Index: rec.Index,
			Name:  rec.Name,
			Stage: StageHealth,
			Err:   fmt.Errorf("ended in phase %s", rec.Phase),
		})
	}
	failures = append(failures, r.Errors...)

	if len(failures) == 0 {
		return nil
	}
	return &FleetError{Operation: r.Operation, Failures: failures}
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
