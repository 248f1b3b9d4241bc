package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consulta-go/internal/service"
)

// HealthHandler serves /health, /ready and /version.
type HealthHandler struct {
	health service.HealthServiceInterface
}

// NewHealthHandler creates the handler.
func NewHealthHandler(health service.HealthServiceInterface) *HealthHandler {
	return &HealthHandler{health: health}
}

// Health reports 503 only when a dependency is down.
func (h *HealthHandler) Health(c *gin.Context) {
	result := h.health.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if result.Status == service.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Ready reports 503 while any dependency is unhealthy.
func (h *HealthHandler) Ready(c *gin.Context) {
	result := h.health.CheckReadiness(c.Request.Context())
	status := http.StatusOK
	if result.Status == service.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Version returns build information.
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.GetVersionInfo())
}
