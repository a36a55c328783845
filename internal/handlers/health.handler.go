package handlers

import (
	"context"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
	"github.com/nimasrn/call-billing/pkg/logger"
)

type HealthService interface {
	Check(ctx context.Context) error
}
type HealthHandler struct {
	healthService HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(healthService HealthService) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	if err := h.healthService.Check(ctx); err != nil {
		logger.Warn("[handlers] health check failed", "error", err)
		writeJSON(ctx, xhttp.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	ctx.Response.SetBodyString("success")
}
