package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api"
)

// APIKeyHandler checks provider credentials without storing them.
type APIKeyHandler struct {
	store *fallback.Store
}

// NewAPIKeyHandler constructs an API key handler.
func NewAPIKeyHandler(store *fallback.Store) *APIKeyHandler {
	return &APIKeyHandler{store: store}
}

type apiKeyRequest struct {
	Key string `json:"key"`
}

// Validate checks the key format only.
func (h *APIKeyHandler) Validate(c *gin.Context) {
	var body apiKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errValidate := fallback.ValidateAPIKey(body.Key); errValidate != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": errValidate.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Test probes the key against the primary model.
func (h *APIKeyHandler) Test(c *gin.Context) {
	var body apiKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errTest := h.store.TestAPIKey(c.Request.Context(), body.Key)
	if errTest != nil {
		api.WriteError(c, errTest)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"model":      result.Model,
		"latency_ms": result.LatencyMs,
		"sample":     result.Sample,
	})
}
