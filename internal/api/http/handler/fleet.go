package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/api/http/middleware"
	"github.com/EternisAI/silo-fleet/internal/fleet"
)

type FleetService interface {
	Status(ctx context.Context) *fleet.Report
	Reconcile(ctx context.Context) (*fleet.Report, error)
	Teardown(ctx context.Context, removeNetwork bool) (*fleet.Report, error)
	Last() *fleet.Report
}

type FleetHandler struct {
	fleet  FleetService
	daemon string
}

func NewFleetHandler(svc FleetService, daemon string) *FleetHandler {
	return &FleetHandler{fleet: svc, daemon: daemon}
}

// Status observes the fleet. ?last=true returns the report of the most recent
// reconcile or teardown instead.
func (h *FleetHandler) Status(ctx *gin.Context) {
	last, err := strconv.ParseBool(ctx.DefaultQuery("last", "false"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "last must be a boolean"})
		return
	}

	if last {
		report := h.fleet.Last()
		if report == nil {
			ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "no reconciliation has run yet"})
			return
		}
		ctx.JSON(http.StatusOK, dto.FleetResponse{ReportView: report.View(), Daemon: h.daemon})
		return
	}

	report := h.fleet.Status(ctx.Request.Context())
	ctx.JSON(http.StatusOK, dto.FleetResponse{ReportView: report.View(), Daemon: h.daemon})
}

// Teardown stops and removes every agent. ?remove_network=true also removes
// the fleet network.
func (h *FleetHandler) Teardown(ctx *gin.Context) {
	removeNetwork, err := strconv.ParseBool(ctx.DefaultQuery("remove_network", "false"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "remove_network must be a boolean"})
		return
	}

	slog.Info("Teardown requested", "remove_network", removeNetwork)
	report, err := h.fleet.Teardown(context.WithoutCancel(ctx.Request.Context()), removeNetwork)
	if errors.Is(err, fleet.ErrReconcileInProgress) {
		ctx.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		slog.Error("Teardown failed", "error", err)
		ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "teardown failed"})
		return
	}

	ctx.JSON(http.StatusOK, dto.FleetResponse{ReportView: report.View(), Daemon: h.daemon})
}

// Reconcile runs a start pass. It is detached from the request so a client
// disconnect does not leave the fleet half-converged.
func (h *FleetHandler) Reconcile(ctx *gin.Context) {
	subject, _ := ctx.Get(middleware.ContextSubject)
	slog.Info("Reconciliation requested", "subject", subject)

	report, err := h.fleet.Reconcile(context.WithoutCancel(ctx.Request.Context()))
	if errors.Is(err, fleet.ErrReconcileInProgress) {
		ctx.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		slog.Error("Reconciliation failed", "error", err)
		ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "reconciliation failed"})
		return
	}

	if ferr := report.Err(); ferr != nil {
		slog.Warn("Fleet did not converge", "run", report.RunID, "error", ferr)
	}
	ctx.JSON(http.StatusOK, dto.FleetResponse{ReportView: report.View(), Daemon: h.daemon})
}
