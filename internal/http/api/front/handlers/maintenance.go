package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/maintenance"
)

// MaintenanceStatusHandler exposes the public maintenance banner state.
type MaintenanceStatusHandler struct {
	gate *maintenance.Gate
}

// NewMaintenanceStatusHandler constructs a MaintenanceStatusHandler.
func NewMaintenanceStatusHandler(gate *maintenance.Gate) *MaintenanceStatusHandler {
	return &MaintenanceStatusHandler{gate: gate}
}

// Get returns the effective maintenance status.
func (h *MaintenanceStatusHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.gate.Status())
}
