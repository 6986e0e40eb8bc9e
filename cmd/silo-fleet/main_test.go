package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/EternisAI/silo-fleet/internal/api/http"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/controlplane/fakedaemon"
	"github.com/EternisAI/silo-fleet/internal/fleet"
)

type harness struct {
	daemon   *fakedaemon.Daemon
	dials    int
	dialErrs []error
}

func (h *harness) dial(context.Context, string, *tls.Config) (controlplane.Daemon, error) {
	h.dials++
	if len(h.dialErrs) > 0 {
		err := h.dialErrs[0]
		h.dialErrs = h.dialErrs[1:]
		return nil, err
	}
	return h.daemon, nil
}

// fastFleet keeps health polling instant and talks plaintext to the fake daemon.
var fastFleet = []string{
	"--set", "TLS_ENABLED=false",
	"--set", "START_DELAY=0s",
	"--set", "HEALTH_INTERVAL=1ms",
	"--set", "REACHABILITY_TIMEOUT=100ms",
}

func (h *harness) execute(args ...string) (string, int) {
	a := newApp()
	a.environ = []string{}
	a.logOutput = io.Discard
	a.factory = &controlplane.Factory{Dial: h.dial}
	a.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	var stdout bytes.Buffer
	code := run(context.Background(), a, args, &stdout, io.Discard)
	return stdout.String(), code
}

func newHarness() *harness {
	return &harness{daemon: fakedaemon.New()}
}

func TestVersion(t *testing.T) {
	h := newHarness()
	out, code := h.execute("version")

	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "silo-fleet dev")
	assert.Equal(t, 0, h.dials)
}

func TestStart_Converges(t *testing.T) {
	h := newHarness()
	out, code := h.execute(append([]string{"start"}, fastFleet...)...)

	assert.Equal(t, exitOK, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Contains(t, lines[1], "build-agent-1")
	assert.Contains(t, lines[3], "build-agent-3")
	assert.Equal(t, "warning: TLS disabled: the daemon connection is unauthenticated", lines[4])
	assert.True(t, h.daemon.Closed)
}

func TestStart_NotConverged(t *testing.T) {
	h := newHarness()
	h.daemon.CreateErr["build-agent-2"] = errors.New("no space left on device")

	out, code := h.execute(append([]string{"start"}, fastFleet...)...)

	assert.Equal(t, exitNotConverged, code)
	assert.Contains(t, out, "no space left on device")
}

func TestStatus_JSON(t *testing.T) {
	h := newHarness()
	_, code := h.execute(append([]string{"start", "--set", "AGENT_COUNT=2"}, fastFleet...)...)
	require.Equal(t, exitOK, code)

	out, code := h.execute(append([]string{"status", "-o", "json", "--set", "AGENT_COUNT=2"}, fastFleet...)...)

	require.Equal(t, exitOK, code)
	var view fleet.ReportView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, fleet.OperationStatus, view.Operation)
	require.Len(t, view.Agents, 2)
	assert.Equal(t, fleet.PhaseHealthy, view.Agents[0].Phase)
	assert.Equal(t, "172.20.0.11 (host:2202->22)", view.Agents[1].Identity)
}

func TestStatus_AbsentFleetFails(t *testing.T) {
	h := newHarness()
	out, code := h.execute(append([]string{"status", "-o", "json"}, fastFleet...)...)

	assert.Equal(t, exitNotConverged, code)
	var view fleet.ReportView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.False(t, view.Converged)
	for _, a := range view.Agents {
		assert.Equal(t, fleet.PhaseAbsent, a.Phase)
		assert.False(t, a.Converged)
	}
	assert.Empty(t, h.daemon.Names())
}

func TestStatus_UnhealthyFleetFails(t *testing.T) {
	h := newHarness()
	_, code := h.execute(append([]string{"start"}, fastFleet...)...)
	require.Equal(t, exitOK, code)

	h.daemon.Health = func(string, int) string { return controlplane.HealthUnhealthy }
	out, code := h.execute(append([]string{"status"}, fastFleet...)...)

	assert.Equal(t, exitNotConverged, code)
	assert.Contains(t, out, string(fleet.PhaseUnhealthy))
}

func TestStop_RemoveNetwork(t *testing.T) {
	h := newHarness()
	_, code := h.execute(append([]string{"start"}, fastFleet...)...)
	require.Equal(t, exitOK, code)

	_, code = h.execute(append([]string{"stop", "--remove-network"}, fastFleet...)...)

	assert.Equal(t, exitOK, code)
	assert.Empty(t, h.daemon.Names())
	_, ok := h.daemon.Network("build-agents")
	assert.False(t, ok)
}

func TestRestart(t *testing.T) {
	h := newHarness()
	_, code := h.execute(append([]string{"restart", "-o", "yaml"}, fastFleet...)...)

	assert.Equal(t, exitOK, code)
	assert.Len(t, h.daemon.Names(), 3)
}

func TestBuildCommand(t *testing.T) {
	h := newHarness()
	out, code := h.execute(append([]string{"build", "--set", "BUILD_CONTEXT=./agent"}, fastFleet...)...)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Built build-agent:latest")
	assert.Equal(t, []string{"./agent=build-agent:latest"}, h.daemon.Builds)
}

func TestConfigurationErrorExitsBeforeDialing(t *testing.T) {
	for name, args := range map[string][]string{
		"fleet size":     {"start", "--set", "AGENT_COUNT=0"},
		"topology":       {"start", "--set", "TOPOLOGY=mesh"},
		"unknown key":    {"start", "--set", "NOPE=1"},
		"malformed pair": {"start", "--set", "AGENT_COUNT"},
		"output format":  {"start", "-o", "xml"},
		"missing file":   {"start", "--config", "/nonexistent/silo-fleet.env"},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			_, code := h.execute(args...)
			assert.Equal(t, exitFailure, code)
			assert.Equal(t, 0, h.dials)
		})
	}
}

func TestCertificateErrorFailsClosed(t *testing.T) {
	h := newHarness()
	_, code := h.execute("start", "--set", "CERT_DIR="+t.TempDir(), "--connect-retries", "3")

	assert.Equal(t, exitFailure, code)
	assert.Equal(t, 0, h.dials)
}

func TestConnectRetries(t *testing.T) {
	h := newHarness()
	h.dialErrs = []error{errors.New("connection refused"), errors.New("connection refused")}

	_, code := h.execute(append([]string{"start", "--connect-retries", "3"}, fastFleet...)...)

	assert.Equal(t, exitOK, code)
	assert.Equal(t, 3, h.dials)
}

func TestConnectFailureWithoutRetries(t *testing.T) {
	h := newHarness()
	h.dialErrs = []error{errors.New("connection refused")}

	_, code := h.execute(append([]string{"status"}, fastFleet...)...)

	assert.Equal(t, exitFailure, code)
	assert.Equal(t, 1, h.dials)
}

func TestCertsInitAndCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	h := newHarness()

	out, code := h.execute("certs", "init", "--set", "CERT_DIR="+dir, "--server-ip", "127.0.0.1")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, filepath.Join(dir, "key.pem"))
	assert.FileExists(t, filepath.Join(dir, "server-cert.pem"))

	_, code = h.execute("certs", "init", "--set", "CERT_DIR="+dir)
	assert.Equal(t, exitFailure, code, "refuses to overwrite without --force")

	out, code = h.execute("certs", "check", "--set", "CERT_DIR="+dir)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Usable:")

	require.NoError(t, os.Chmod(filepath.Join(dir, "key.pem"), 0644))
	out, code = h.execute("certs", "check", "-o", "json", "--set", "CERT_DIR="+dir)
	assert.Equal(t, exitOK, code)

	var report certReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Usable)
	require.Len(t, report.Problems, 1)
	assert.Equal(t, "InsecureKeyPermissions", string(report.Problems[0].Kind))
	assert.Equal(t, 0, h.dials)
}

func TestCertsCheck_MissingBundle(t *testing.T) {
	h := newHarness()
	out, code := h.execute("certs", "check", "--set", "CERT_DIR="+t.TempDir())

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "MissingCertificate")
}

func TestToken(t *testing.T) {
	h := newHarness()
	out, code := h.execute("token", "--set", "API_JWT_SECRET=s3cret", "--role", "admin", "--subject", "ci")

	require.Equal(t, exitOK, code)
	claims, err := auth.ValidateToken("s3cret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	_, code = h.execute("token")
	assert.Equal(t, exitFailure, code, "no secret configured")
}

func TestNewEngine_CORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := newEngine(&internalhttp.Services{}, internalhttp.Config{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/fleet", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/fleet", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
