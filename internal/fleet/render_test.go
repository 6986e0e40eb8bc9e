package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/EternisAI/silo-fleet/internal/config"
	"github.com/EternisAI/silo-fleet/internal/controlplane/fakedaemon"
)

func sampleReport(t *testing.T) *Report {
	t.Helper()
	d := fakedaemon.New()
	d.CreateErr["build-agent-2"] = errors.New("no space left on device")
	return New(d, testConfig(t, config.Values{config.KeyAgentCount: "2"}), nil).Start(context.Background())
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(t), "table"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "INDEX"))
	assert.Contains(t, lines[1], "build-agent-1")
	assert.Contains(t, lines[1], "172.20.0.10 (host:2201->22)")
	assert.Contains(t, lines[1], "healthy")
	assert.Contains(t, lines[2], "no space left on device")
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(t), "json"))

	var view ReportView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, OperationStart, view.Operation)
	assert.False(t, view.Converged)
	require.Len(t, view.Agents, 2)
	assert.True(t, view.Agents[0].Converged)
	assert.False(t, view.Agents[1].Converged)
	assert.Equal(t, PhaseAbsent, view.Agents[1].Phase)
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(t), "yaml"))

	var view map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, "start", view["operation"])
	assert.Len(t, view["agents"], 2)
}

func TestRender_UnknownFormat(t *testing.T) {
	assert.Error(t, Render(&bytes.Buffer{}, sampleReport(t), "xml"))
}
