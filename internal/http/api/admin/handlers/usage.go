package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/usage"
)

// UsageHandler exposes the dispatch log and derived stats.
type UsageHandler struct {
	recorder *usage.Recorder
}

// NewUsageHandler constructs a usage handler.
func NewUsageHandler(recorder *usage.Recorder) *UsageHandler {
	return &UsageHandler{recorder: recorder}
}

// Stats returns today's aggregate.
func (h *UsageHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.recorder.StatsForToday())
}

// Logs returns the newest entries, oldest first. Query: limit (default 100, 0 = all).
func (h *UsageHandler) Logs(c *gin.Context) {
	limit := 100
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	logs := h.recorder.Logs(limit)
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": h.recorder.Len(), "capacity": h.recorder.Capacity()})
}

// ClearLogs drops every entry.
func (h *UsageHandler) ClearLogs(c *gin.Context) {
	h.recorder.Clear()
	c.Status(http.StatusNoContent)
}
