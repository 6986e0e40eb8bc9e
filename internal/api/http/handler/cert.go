package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/cert"
	"github.com/EternisAI/silo-fleet/internal/config"
)

type CertHandler struct {
	tls config.TLSConfig
}

func NewCertHandler(tls config.TLSConfig) *CertHandler {
	return &CertHandler{tls: tls}
}

// Check re-validates the client bundle on every call; nothing is cached.
func (h *CertHandler) Check(ctx *gin.Context) {
	if !h.tls.Enabled {
		ctx.JSON(http.StatusOK, dto.CertStatusResponse{Enabled: false, Problems: []dto.CertProblem{}})
		return
	}

	res := cert.NewValidator(h.tls.ExpiryWarnDays).Validate(
		cert.Inspect(h.tls.CAPath(), h.tls.CertPath(), h.tls.KeyPath()))

	resp := dto.CertStatusResponse{
		Enabled:         true,
		Usable:          res.Usable,
		DaysUntilExpiry: res.DaysUntilExpiry,
		Problems:        make([]dto.CertProblem, 0, len(res.Problems)),
	}
	for _, p := range res.Problems {
		resp.Problems = append(resp.Problems, dto.CertProblem{
			Kind:     string(p.Kind),
			Severity: string(p.Severity),
			Path:     p.Path,
			Detail:   p.Detail,
		})
	}
	ctx.JSON(http.StatusOK, resp)
}
