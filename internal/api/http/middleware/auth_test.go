package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc, headers map[string]string) int {
	r := gin.New()
	r.GET("/x", h, func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req, _ := http.NewRequest("GET", "/x", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAPIKeyAuth(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, serve(APIKeyAuth(""), map[string]string{"X-API-Key": "k"}))
	assert.Equal(t, http.StatusUnauthorized, serve(APIKeyAuth("k"), nil))
	assert.Equal(t, http.StatusUnauthorized, serve(APIKeyAuth("k"), map[string]string{"X-API-Key": "nope"}))
	assert.Equal(t, http.StatusNoContent, serve(APIKeyAuth("k"), map[string]string{"X-API-Key": "k"}))
}

func TestKeyOrJWTAuth_NoSecretsConfigured(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serve(KeyOrJWTAuth("", ""), map[string]string{"X-API-Key": ""}))
	assert.Equal(t, http.StatusUnauthorized, serve(KeyOrJWTAuth("", ""), map[string]string{"Authorization": "Bearer x"}))
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, serve(RequireRole("admin"), nil))
}
