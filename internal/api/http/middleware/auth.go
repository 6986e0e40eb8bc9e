package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-fleet/internal/auth"
)

const (
	apiKeyHeader = "X-API-Key"

	ContextSubject = "subject"
	ContextRole    = "role"
)

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		userRole, ok := role.(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		for _, r := range roles {
			if r == userRole {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			slog.Warn("Admin API key not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Admin API is not configured",
			})
			return
		}

		providedKey := c.GetHeader(apiKeyHeader)
		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
			})
			return
		}

		if !validKey(providedKey, apiKey) {
			slog.Warn("Invalid API key attempt",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			return
		}

		c.Set(ContextSubject, "admin-key")
		c.Set(ContextRole, auth.RoleAdmin)
		c.Next()
	}
}

// KeyOrJWTAuth accepts the admin API key or a bearer token signed with secret.
func KeyOrJWTAuth(apiKey, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(apiKeyHeader); key != "" && apiKey != "" && validKey(key, apiKey) {
			c.Set(ContextSubject, "admin-key")
			c.Set(ContextRole, auth.RoleAdmin)
			c.Next()
			return
		}

		if authenticateBearer(c, secret) {
			c.Next()
			return
		}

		slog.Debug("Rejected unauthenticated request", "path", c.Request.URL.Path, "client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

func authenticateBearer(c *gin.Context, secret string) bool {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") || secret == "" {
		return false
	}

	claims, err := auth.ValidateToken(secret, strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		slog.Debug("Invalid bearer token", "path", c.Request.URL.Path, "error", err)
		return false
	}

	c.Set(ContextSubject, claims.Subject)
	c.Set(ContextRole, claims.Role)
	return true
}

func validKey(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
