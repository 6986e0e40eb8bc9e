package dto

import "github.com/EternisAI/silo-fleet/internal/fleet"

type FleetResponse struct {
	fleet.ReportView
	Daemon string `json:"daemon"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
