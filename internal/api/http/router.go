package http

import (
	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-fleet/internal/api/http/handler"
	"github.com/EternisAI/silo-fleet/internal/api/http/middleware"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/config"
)

type Services struct {
	Fleet handler.FleetService
	// Daemon is the version banner of the connected daemon.
	Daemon string
	TLS    config.TLSConfig
}

func SetupRoute(engine *gin.Engine, srvs *Services, cfg Config) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	api := engine.Group("/api/v1")

	read := api.Group("", middleware.KeyOrJWTAuth(cfg.AdminAPIKey, cfg.JWTSecret))
	certHandler := handler.NewCertHandler(srvs.TLS)
	read.GET("/certs", certHandler.Check)

	if srvs.Fleet != nil {
		fleetHandler := handler.NewFleetHandler(srvs.Fleet, srvs.Daemon)
		read.GET("/fleet", fleetHandler.Status)

		admin := api.Group("", middleware.KeyOrJWTAuth(cfg.AdminAPIKey, cfg.JWTSecret), middleware.RequireRole(auth.RoleAdmin))
		admin.POST("/fleet/reconcile", fleetHandler.Reconcile)

		api.DELETE("/fleet", middleware.APIKeyAuth(cfg.AdminAPIKey), fleetHandler.Teardown)
	}
}
