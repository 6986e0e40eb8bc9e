package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/EternisAI/silo-fleet/internal/config"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/probe"
	"github.com/EternisAI/silo-fleet/internal/topology"
)

// StopGrace is how long an agent gets to exit before the daemon kills it.
const StopGrace = 10 * time.Second

// ErrHealthTimeout is recorded when the daemon still reports "starting"
// after the last health poll.
var ErrHealthTimeout = errors.New("health check did not settle")

// Reconciler converges the daemon to cfg.Fleet.Size agents under cfg.Topology.
// Every operation rebuilds the fleet state from the daemon; nothing is cached
// between calls.
type Reconciler struct {
	daemon controlplane.Daemon
	cfg    config.EffectiveConfig
	prober probe.Prober
}

// New returns a Reconciler. A nil prober disables reachability checks.
func New(daemon controlplane.Daemon, cfg config.EffectiveConfig, prober probe.Prober) *Reconciler {
	return &Reconciler{daemon: daemon, cfg: cfg, prober: prober}
}

func (r *Reconciler) newReport(op Operation) *Report {
	return &Report{
		RunID:            uuid.NewString(),
		Operation:        op,
		StartedAt:        time.Now(),
		Agents:           make(State, r.cfg.Fleet.Size),
		requireReachable: r.cfg.Health.RequireReachable,
	}
}

func (r *Reconciler) record(index int) AgentRecord {
	return AgentRecord{
		Index:        index,
		Name:         r.cfg.AgentName(index),
		Identity:     topology.Resolve(r.cfg.Topology, index),
		Phase:        PhaseAbsent,
		Reachability: ReachabilityNotChecked,
	}
}

// each runs fn for indices 1..N on a bounded pool and waits for all of them.
// A failing index never cancels the others.
func (r *Reconciler) each(ctx context.Context, report *Report, fn func(ctx context.Context, rec *AgentRecord)) {
	var g errgroup.Group
	g.SetLimit(r.cfg.Fleet.Concurrency)

	for i := 1; i <= r.cfg.Fleet.Size; i++ {
		rec := r.record(i)
		slot := &report.Agents[i-1]
		g.Go(func() error {
			fn(ctx, &rec)
			*slot = rec
			return nil
		})
	}
	g.Wait()
}

func (r *Reconciler) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.Daemon.Timeout)
}

// Start reconciles the fleet: ensure the network, prune surplus agents, then
// recreate and verify every index.
func (r *Reconciler) Start(ctx context.Context) *Report {
	report := r.newReport(OperationStart)
	r.start(ctx, report)
	report.FinishedAt = time.Now()
	return report
}

func (r *Reconciler) start(ctx context.Context, report *Report) {
	slog.Info("Reconciling fleet",
		"run", report.RunID,
		"size", r.cfg.Fleet.Size,
		"topology", r.cfg.Topology.Kind,
		"image", r.cfg.Fleet.Image)

	gate := sync.OnceValue(func() error { return r.ensureNetwork(ctx, report.RunID) })

	r.prune(ctx, report)

	var mu sync.Mutex
	r.each(ctx, report, func(ctx context.Context, rec *AgentRecord) {
		if err := gate(); err != nil {
			rec.fail(StageNetwork, err)
			return
		}
		if !r.replace(ctx, rec, report.RunID) {
			return
		}
		r.awaitHealth(ctx, rec)
		if warning := r.checkReachability(ctx, rec); warning != "" {
			mu.Lock()
			report.warnf("%s", warning)
			mu.Unlock()
		}
	})

	for _, rec := range report.Agents {
		slog.Info("Agent reconciled",
			"agent", rec.Name,
			"index", rec.Index,
			"phase", rec.Phase,
			"reachability", rec.Reachability)
	}
}

// ensureNetwork creates the fleet network once. A network that already
// exists, or that a concurrent run creates first, is accepted as is.
func (r *Reconciler) ensureNetwork(ctx context.Context, runID string) error {
	spec, ok := networkSpec(r.cfg, runID)
	if !ok {
		return nil
	}

	cctx, cancel := r.call(ctx)
	defer cancel()

	exists, err := r.daemon.NetworkExists(cctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		slog.Debug("Network already exists", "network", spec.Name)
		return nil
	}

	err = r.daemon.CreateNetwork(cctx, spec)
	if errors.Is(err, controlplane.ErrAlreadyExists) {
		slog.Debug("Network created concurrently", "network", spec.Name)
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("Created network", "network", spec.Name, "driver", spec.Driver, "subnet", spec.Subnet)
	return nil
}

// prune removes managed agents whose index is beyond the fleet size.
func (r *Reconciler) prune(ctx context.Context, report *Report) {
	cctx, cancel := r.call(ctx)
	managed, err := r.daemon.ListManaged(cctx, managedLabels(r.cfg))
	cancel()
	if err != nil {
		report.Errors = append(report.Errors, &AgentError{Stage: StagePrune, Err: err})
		return
	}

	for _, c := range managed {
		index, err := strconv.Atoi(c.Labels[LabelIndex])
		if err != nil || index <= r.cfg.Fleet.Size {
			continue
		}
		slog.Info("Removing surplus agent", "agent", c.Name, "index", index)
		if err := r.remove(ctx, c.ID); err != nil {
			report.Errors = append(report.Errors, &AgentError{Index: index, Name: c.Name, Stage: StagePrune, Err: err})
			continue
		}
		report.Pruned = append(report.Pruned, c.Name)
	}
}

// remove stops and deletes a container; one that is already gone counts as removed.
func (r *Reconciler) remove(ctx context.Context, id string) error {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.Daemon.Timeout+StopGrace)
	err := r.daemon.StopContainer(sctx, id, StopGrace)
	cancel()
	if err != nil && !errors.Is(err, controlplane.ErrNotFound) {
		slog.Warn("Failed to stop container, forcing removal", "container", id, "error", err)
	}

	rctx, cancel := r.call(ctx)
	defer cancel()
	if err := r.daemon.RemoveContainer(rctx, id); err != nil && !errors.Is(err, controlplane.ErrNotFound) {
		return err
	}
	return nil
}

// replace removes any container holding the agent's name and launches a
// fresh one. It reports false when the agent could not be launched.
func (r *Reconciler) replace(ctx context.Context, rec *AgentRecord, runID string) bool {
	cctx, cancel := r.call(ctx)
	existing, err := r.daemon.FindContainer(cctx, rec.Name)
	cancel()
	if err != nil {
		rec.fail(StageRemove, err)
		return false
	}
	if existing != nil {
		rec.Phase = PhaseRemoving
		slog.Info("Removing existing agent", "agent", rec.Name, "container", existing.ID)
		if err := r.remove(ctx, existing.ID); err != nil {
			rec.Phase = PhaseUnknown
			rec.fail(StageRemove, err)
			return false
		}
		rec.Phase = PhaseAbsent
	}

	spec := containerSpec(r.cfg, rec.Index, rec.Identity, runID)

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Fleet.LaunchAttempts; attempt++ {
		rec.Phase = PhaseCreating
		id, err := r.launch(ctx, spec)
		if err == nil {
			rec.ContainerID = id
			rec.Phase = PhaseCreated
			slog.Info("Launched agent", "agent", rec.Name, "index", rec.Index, "identity", rec.Identity, "container", id)
			return true
		}

		lastErr = err
		slog.Warn("Failed to launch agent", "agent", rec.Name, "attempt", attempt, "error", err)
		if errors.Is(err, controlplane.ErrImageNotFound) {
			break
		}
		if errors.Is(err, controlplane.ErrAlreadyExists) {
			r.removeByName(ctx, rec.Name)
		}
	}

	rec.Phase = PhaseAbsent
	rec.fail(StageLaunch, lastErr)
	return false
}

// launch creates and starts one container, removing it again if start fails.
func (r *Reconciler) launch(ctx context.Context, spec controlplane.ContainerSpec) (string, error) {
	cctx, cancel := r.call(ctx)
	id, err := r.daemon.CreateContainer(cctx, spec)
	cancel()
	if err != nil {
		return "", err
	}

	sctx, cancel := r.call(ctx)
	err = r.daemon.StartContainer(sctx, id)
	cancel()
	if err != nil {
		if rmErr := r.remove(ctx, id); rmErr != nil {
			slog.Warn("Failed to clean up container after start failure", "container", id, "error", rmErr)
		}
		return "", fmt.Errorf("failed to start: %w", err)
	}
	return id, nil
}

func (r *Reconciler) removeByName(ctx context.Context, name string) {
	cctx, cancel := r.call(ctx)
	c, err := r.daemon.FindContainer(cctx, name)
	cancel()
	if err != nil || c == nil {
		return
	}
	if err := r.remove(ctx, c.ID); err != nil {
		slog.Warn("Failed to remove conflicting container", "agent", name, "error", err)
	}
}

// awaitHealth waits the start delay, then polls the daemon's health verdict
// a bounded number of times.
func (r *Reconciler) awaitHealth(ctx context.Context, rec *AgentRecord) {
	if err := sleep(ctx, r.cfg.Health.StartDelay); err != nil {
		rec.Phase = PhaseUnknown
		rec.fail(StageHealth, err)
		return
	}

	rec.Phase = PhaseHealthChecking
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Health.Attempts; attempt++ {
		cctx, cancel := r.call(ctx)
		st, err := r.daemon.InspectContainer(cctx, rec.ContainerID)
		cancel()

		if err != nil {
			lastErr = err
		} else {
			lastErr = nil
			rec.Status = st.Status
			rec.Health = st.Health
			switch {
			case st.Health == controlplane.HealthHealthy:
				rec.Phase = PhaseHealthy
				return
			case st.Health == controlplane.HealthUnhealthy:
				rec.Phase = PhaseUnhealthy
				rec.fail(StageHealth, errors.New("daemon reported the container unhealthy"))
				return
			case !st.Running && (st.Status == "exited" || st.Status == "dead"):
				rec.Phase = PhaseUnhealthy
				rec.fail(StageHealth, fmt.Errorf("container %s", st.Status))
				return
			}
		}

		if attempt < r.cfg.Health.Attempts {
			if err := sleep(ctx, r.cfg.Health.Interval); err != nil {
				lastErr = err
				break
			}
		}
	}

	switch {
	case lastErr != nil:
		rec.Phase = PhaseUnknown
		rec.fail(StageHealth, lastErr)
	case rec.Health == controlplane.HealthStarting:
		rec.Phase = PhaseUnhealthy
		rec.fail(StageHealth, fmt.Errorf("%w: still starting after %d attempts", ErrHealthTimeout, r.cfg.Health.Attempts))
	default:
		rec.Phase = PhaseUnknown
		rec.fail(StageHealth, fmt.Errorf("%w: no health status after %d attempts", ErrHealthTimeout, r.cfg.Health.Attempts))
	}
}

// checkReachability dials the agent's service endpoint independently of the
// daemon's verdict. It returns a warning when the agent is unreachable but
// reachability is not required for convergence.
func (r *Reconciler) checkReachability(ctx context.Context, rec *AgentRecord) string {
	target, ok := topology.Endpoint(rec.Identity, r.cfg.Daemon.Host, r.cfg.Topology.ServicePort)
	if !ok || r.prober == nil {
		rec.Reachability = ReachabilitySkipped
		return ""
	}

	pctx, cancel := context.WithTimeout(ctx, r.cfg.Health.ReachabilityTimeout)
	defer cancel()

	err := r.prober.Probe(pctx, target)
	if err == nil {
		rec.Reachability = ReachabilityReachable
		return ""
	}

	rec.Reachability = ReachabilityUnreachable
	rec.ReachabilityDetail = err.Error()
	slog.Warn("Agent unreachable", "agent", rec.Name, "target", target, "probe", r.prober.Name(), "error", err)

	if r.cfg.Health.RequireReachable {
		if rec.Err == nil {
			rec.fail(StageReachability, err)
		}
		return ""
	}
	return fmt.Sprintf("%s: %s probe of %s failed: %v", rec.Name, r.prober.Name(), target, err)
}

// Stop removes every agent and, when removeNetwork is set, the fleet network.
// Agents that are already absent count as stopped.
func (r *Reconciler) Stop(ctx context.Context, removeNetwork bool) *Report {
	report := r.newReport(OperationStop)
	r.stop(ctx, report)

	if removeNetwork {
		if err := r.removeNetwork(ctx); err != nil {
			report.Errors = append(report.Errors, &AgentError{Stage: StageNetwork, Err: err})
		}
	}
	report.FinishedAt = time.Now()
	return report
}

func (r *Reconciler) stop(ctx context.Context, report *Report) {
	slog.Info("Stopping fleet", "run", report.RunID, "size", r.cfg.Fleet.Size)

	r.prune(ctx, report)

	r.each(ctx, report, func(ctx context.Context, rec *AgentRecord) {
		cctx, cancel := r.call(ctx)
		c, err := r.daemon.FindContainer(cctx, rec.Name)
		cancel()
		if err != nil {
			rec.Phase = PhaseUnknown
			rec.fail(StageStop, err)
			return
		}
		if c == nil {
			return
		}

		rec.ContainerID = c.ID
		rec.Status = c.State
		rec.Phase = PhaseRemoving
		if err := r.remove(ctx, c.ID); err != nil {
			rec.Phase = PhaseUnknown
			rec.fail(StageStop, err)
			return
		}
		rec.Phase = PhaseAbsent
		rec.Status = ""
		slog.Info("Removed agent", "agent", rec.Name, "container", c.ID)
	})
}

func (r *Reconciler) removeNetwork(ctx context.Context) error {
	n, ok := topology.NetworkFor(r.cfg.Topology)
	if !ok {
		return nil
	}
	cctx, cancel := r.call(ctx)
	defer cancel()

	err := r.daemon.RemoveNetwork(cctx, n.Name)
	if errors.Is(err, controlplane.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("Removed network", "network", n.Name)
	return nil
}

// Status rebuilds the fleet state from the daemon without changing anything.
func (r *Reconciler) Status(ctx context.Context) *Report {
	report := r.newReport(OperationStatus)

	r.each(ctx, report, func(ctx context.Context, rec *AgentRecord) {
		cctx, cancel := r.call(ctx)
		c, err := r.daemon.FindContainer(cctx, rec.Name)
		cancel()
		if err != nil {
			rec.Phase = PhaseUnknown
			rec.fail(StageInspect, err)
			return
		}
		if c == nil {
			return
		}
		rec.ContainerID = c.ID

		cctx, cancel = r.call(ctx)
		st, err := r.daemon.InspectContainer(cctx, c.ID)
		cancel()
		if errors.Is(err, controlplane.ErrNotFound) {
			return
		}
		if err != nil {
			rec.Phase = PhaseUnknown
			rec.Status = c.State
			rec.fail(StageInspect, err)
			return
		}
		rec.Status = st.Status
		rec.Health = st.Health
		rec.Phase = observedPhase(st)
	})

	report.FinishedAt = time.Now()
	return report
}

// Restart stops the fleet, then starts it. The report is the start outcome;
// stop failures are carried in Errors.
func (r *Reconciler) Restart(ctx context.Context) *Report {
	stopped := r.newReport(OperationStop)
	r.stop(ctx, stopped)

	report := r.newReport(OperationRestart)
	report.StartedAt = stopped.StartedAt
	report.Pruned = stopped.Pruned
	for _, rec := range stopped.Agents {
		if rec.Err != nil {
			report.Errors = append(report.Errors, rec.Err)
		}
	}
	report.Errors = append(report.Errors, stopped.Errors...)

	r.start(ctx, report)
	report.FinishedAt = time.Now()
	return report
}

// Build builds the agent image from the configured build context.
func (r *Reconciler) Build(ctx context.Context) error {
	slog.Info("Building agent image", "image", r.cfg.Fleet.Image, "context", r.cfg.Fleet.BuildContext)
	if err := r.daemon.BuildImage(ctx, r.cfg.Fleet.BuildContext, r.cfg.Fleet.Image); err != nil {
		return err
	}
	slog.Info("Built agent image", "image", r.cfg.Fleet.Image)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
