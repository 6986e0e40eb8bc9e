package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	internalhttp "github.com/EternisAI/silo-fleet/internal/api/http"
	"github.com/EternisAI/silo-fleet/internal/fleet"
)

const shutdownTimeout = 10 * time.Second

// newEngine wires the status API on a fresh gin engine.
func newEngine(services *internalhttp.Services, cfg internalhttp.Config) *gin.Engine {
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services, cfg)
	return engine
}

func newServeCmd(a *app) *cobra.Command {
	var reconcileOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fleet status API on API_PORT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			for _, w := range clientWarnings(client) {
				slog.Warn(w)
			}

			prober, err := a.prober()
			if err != nil {
				return err
			}
			supervisor := fleet.NewSupervisor(fleet.New(client.Daemon, a.cfg, prober))

			if a.cfg.API.AdminKey == "" && a.cfg.API.JWTSecret == "" {
				slog.Warn("Neither API_ADMIN_KEY nor API_JWT_SECRET is set; fleet endpoints will reject every request")
			}

			gin.SetMode(gin.ReleaseMode)
			engine := newEngine(&internalhttp.Services{
				Fleet:  supervisor,
				Daemon: client.Version.Version,
				TLS:    a.cfg.TLS,
			}, internalhttp.Config{
				Port:        a.cfg.API.Port,
				AdminAPIKey: a.cfg.API.AdminKey,
				JWTSecret:   a.cfg.API.JWTSecret,
			})

			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.API.Port),
				Handler:           engine,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errChan := make(chan error, 1)
			go func() {
				slog.Info("Starting HTTP server", "address", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errChan <- fmt.Errorf("HTTP server error: %w", err)
				}
			}()

			if reconcileOnStart {
				go func() {
					report, err := supervisor.Reconcile(ctx)
					if err != nil {
						slog.Warn("Initial reconciliation skipped", "error", err)
						return
					}
					if ferr := report.Err(); ferr != nil {
						slog.Warn("Initial reconciliation did not converge", "error", ferr)
					}
				}()
			}

			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
				slog.Info("Received shutdown signal")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
				return err
			}
			slog.Info("HTTP server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&reconcileOnStart, "reconcile", false, "reconcile the fleet once after the server starts")
	return cmd
}
