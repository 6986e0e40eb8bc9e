package fleet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-fleet/internal/config"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/controlplane/fakedaemon"
)

func TestSupervisor_RejectsConcurrentReconcile(t *testing.T) {
	d := fakedaemon.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	d.Health = func(string, int) string {
		once.Do(func() {
			close(entered)
			<-release
		})
		return controlplane.HealthHealthy
	}

	s := NewSupervisor(New(d, testConfig(t, config.Values{config.KeyAgentCount: "1"}), nil))
	assert.Nil(t, s.Last())

	done := make(chan *Report)
	go func() {
		r, _ := s.Reconcile(context.Background())
		done <- r
	}()
	<-entered

	_, err := s.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrReconcileInProgress)

	close(release)
	first := <-done
	require.NotNil(t, first)
	assert.Same(t, first, s.Last())

	second, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.NoError(t, second.Err())
}

func TestSupervisor_Teardown(t *testing.T) {
	d := fakedaemon.New()
	s := NewSupervisor(New(d, testConfig(t, config.Values{config.KeyAgentCount: "2"}), nil))

	_, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, d.Names(), 2)

	report, err := s.Teardown(context.Background(), true)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, OperationStop, report.Operation)
	assert.Same(t, report, s.Last())
	assert.Empty(t, d.Names())
	_, ok := d.Network("build-agents")
	assert.False(t, ok)
}
