package fleet

import (
	"context"
	"errors"
	"sync"
)

var ErrReconcileInProgress = errors.New("a reconciliation is already running")

// Supervisor serialises reconciliations triggered from long-running callers
// and remembers the last report.
type Supervisor struct {
	reconciler *Reconciler

	running sync.Mutex
	mu      sync.RWMutex
	last    *Report
}

func NewSupervisor(r *Reconciler) *Supervisor {
	return &Supervisor{reconciler: r}
}

// Reconcile runs Start unless another reconciliation holds the fleet.
func (s *Supervisor) Reconcile(ctx context.Context) (*Report, error) {
	return s.exclusive(func() *Report { return s.reconciler.Start(ctx) })
}

// Teardown runs Stop under the same exclusion as Reconcile.
func (s *Supervisor) Teardown(ctx context.Context, removeNetwork bool) (*Report, error) {
	return s.exclusive(func() *Report { return s.reconciler.Stop(ctx, removeNetwork) })
}

func (s *Supervisor) exclusive(run func() *Report) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrReconcileInProgress
	}
	defer s.running.Unlock()

	report := run()

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

func (s *Supervisor) Status(ctx context.Context) *Report {
	return s.reconciler.Status(ctx)
}

// Last returns the most recent reconciliation report, or nil.
func (s *Supervisor) Last() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
