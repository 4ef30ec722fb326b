package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api"
)

// FallbackHandler manages the fallback system configuration.
type FallbackHandler struct {
	store *fallback.Store
}

// NewFallbackHandler constructs a fallback handler.
func NewFallbackHandler(store *fallback.Store) *FallbackHandler {
	return &FallbackHandler{store: store}
}

// GetConfig returns the current configuration with masked credentials.
func (h *FallbackHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, formatConfig(h.store.Get()))
}

// updateConfigRequest decodes models like the single-model endpoints do.
type updateConfigRequest struct {
	fallback.Patch
	Models *[]fallbackModelRequest `json:"models"`
}

func (r updateConfigRequest) patch() fallback.Patch {
	p := r.Patch
	p.Models = nil
	if r.Models != nil {
		models := make([]fallback.FallbackModel, 0, len(*r.Models))
		for _, m := range *r.Models {
			models = append(models, m.model())
		}
		p.Models = &models
	}
	return p
}

// UpdateConfig applies a partial update; omitted fields keep their values.
func (h *FallbackHandler) UpdateConfig(c *gin.Context) {
	var body updateConfigRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cfg, errUpdate := h.store.Update(c.Request.Context(), body.patch())
	if errUpdate != nil {
		api.WriteError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, formatConfig(cfg))
}

// fallbackModelRequest captures a model entry; Enabled defaults to true.
type fallbackModelRequest struct {
	ModelID     string   `json:"model_id"`
	Priority    int      `json:"priority"`
	TimeoutMs   int      `json:"timeout_ms"`
	MaxRetries  int      `json:"max_retries"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Enabled     *bool    `json:"enabled"`
	Description string   `json:"description"`
}

func (r fallbackModelRequest) model() fallback.FallbackModel {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return fallback.FallbackModel{
		ModelID:     strings.TrimSpace(r.ModelID),
		Priority:    r.Priority,
		TimeoutMs:   r.TimeoutMs,
		MaxRetries:  r.MaxRetries,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Enabled:     enabled,
		Description: strings.TrimSpace(r.Description),
	}
}

// AddModel appends a fallback model.
func (h *FallbackHandler) AddModel(c *gin.Context) {
	var body fallbackModelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cfg, errAdd := h.store.AddFallbackModel(c.Request.Context(), body.model())
	if errAdd != nil {
		api.WriteError(c, errAdd)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"models": cfg.Fallback.Models})
}

// UpdateModel replaces the fallback model identified by :id.
func (h *FallbackHandler) UpdateModel(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body fallbackModelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cfg, errUpdate := h.store.UpdateFallbackModel(c.Request.Context(), id, body.model())
	if errUpdate != nil {
		api.WriteError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": cfg.Fallback.Models})
}

// DeleteModel removes the fallback model identified by :id.
func (h *FallbackHandler) DeleteModel(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if _, errRemove := h.store.RemoveFallbackModel(c.Request.Context(), id); errRemove != nil {
		api.WriteError(c, errRemove)
		return
	}
	c.Status(http.StatusNoContent)
}

// TestModel probes a model with the configured credentials.
func (h *FallbackHandler) TestModel(c *gin.Context) {
	var body fallbackModelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errTest := h.store.TestFallbackModel(c.Request.Context(), body.model())
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

func formatConfig(cfg fallback.Config) gin.H {
	return gin.H{
		"credentials": gin.H{
			"primary_key": maskKey(cfg.Credentials.PrimaryKey),
			"backup_key":  maskKey(cfg.Credentials.BackupKey),
			"has_primary": cfg.Credentials.PrimaryKey != "",
			"has_backup":  cfg.Credentials.BackupKey != "",
		},
		"fallback":    cfg.Fallback,
		"admission":   cfg.Admission,
		"maintenance": cfg.Maintenance,
		"updated_at":  cfg.UpdatedAt,
	}
}

// maskKey keeps the prefix and the last four characters.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 10 {
		return strings.Repeat("*", len(key))
	}
	return key[:5] + strings.Repeat("*", len(key)-9) + key[len(key)-4:]
}
