package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/maintenance"
)

// MaintenanceHandler toggles the maintenance window.
type MaintenanceHandler struct {
	gate *maintenance.Gate
}

// NewMaintenanceHandler constructs a maintenance handler.
func NewMaintenanceHandler(gate *maintenance.Gate) *MaintenanceHandler {
	return &MaintenanceHandler{gate: gate}
}

// Get returns the effective maintenance status.
func (h *MaintenanceHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.gate.Status())
}

type updateMaintenanceRequest struct {
	Active          bool   `json:"active"`
	Message         string `json:"message"`
	DurationMinutes int    `json:"duration_minutes"`
	ShowCountdown   bool   `json:"show_countdown"`
}

// Update starts or stops the maintenance window.
func (h *MaintenanceHandler) Update(c *gin.Context) {
	var body updateMaintenanceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !body.Active {
		if errStop := h.gate.Stop(c.Request.Context()); errStop != nil {
			api.WriteError(c, errStop)
			return
		}
		c.JSON(http.StatusOK, h.gate.Status())
		return
	}
	if body.DurationMinutes <= 0 {
		api.WriteError(c, errs.Validation("duration_minutes", "must be positive"))
		return
	}
	status, errStart := h.gate.Start(c.Request.Context(), body.Message, time.Duration(body.DurationMinutes)*time.Minute, body.ShowCountdown)
	if errStart != nil {
		api.WriteError(c, errStart)
		return
	}
	c.JSON(http.StatusOK, status)
}
