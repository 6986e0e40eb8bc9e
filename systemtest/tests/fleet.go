package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/fleet"
)

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestReconcile(t *testing.T, router *gin.Engine, apiKey string, size int) {
	t.Run("requires key", func(t *testing.T) {
		rr := do(router, http.MethodPost, "/api/v1/fleet/reconcile", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("converges", func(t *testing.T) {
		rr := do(router, http.MethodPost, "/api/v1/fleet/reconcile", apiKey)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := decodeFleet(t, rr)
		assert.Equal(t, fleet.OperationStart, resp.Operation)
		assert.NotEmpty(t, resp.Daemon)
		require.Len(t, resp.Agents, size)
		for _, a := range resp.Agents {
			assert.Equal(t, fleet.PhaseHealthy, a.Phase, "agent %s: %s", a.Name, a.Error)
			assert.True(t, a.Converged)
		}
	})
}

func TestStatus(t *testing.T, router *gin.Engine, apiKey string, size int) {
	rr := do(router, http.MethodGet, "/api/v1/fleet", apiKey)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeFleet(t, rr)
	assert.Equal(t, fleet.OperationStatus, resp.Operation)
	require.Len(t, resp.Agents, size)
	for _, a := range resp.Agents {
		assert.Equal(t, fleet.PhaseHealthy, a.Phase)
		assert.Equal(t, "running", a.Status)
	}
}

func TestStop(t *testing.T, r *fleet.Reconciler) {
	ctx := context.Background()
	report := r.Stop(ctx, true)
	require.NoError(t, report.Err())

	status := r.Status(ctx)
	for _, a := range status.Agents {
		assert.Equal(t, fleet.PhaseAbsent, a.Phase)
	}
}

func decodeFleet(t *testing.T, rr *httptest.ResponseRecorder) dto.FleetResponse {
	var resp dto.FleetResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func do(router *gin.Engine, method, path, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
