package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/admission"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api"
)

// AdmissionHandler inspects per-caller admission state.
type AdmissionHandler struct {
	manager *admission.Manager
}

// NewAdmissionHandler constructs an admission handler.
func NewAdmissionHandler(manager *admission.Manager) *AdmissionHandler {
	return &AdmissionHandler{manager: manager}
}

// Get returns the record for :caller.
func (h *AdmissionHandler) Get(c *gin.Context) {
	key := admission.KeyForCaller(c.Param("caller"))
	if key == "" {
		api.WriteError(c, errs.Validation("caller", "must not be empty"))
		return
	}
	rec, errLookup := h.manager.Lookup(c.Request.Context(), key)
	if errLookup != nil {
		api.WriteError(c, errLookup)
		return
	}
	c.JSON(http.StatusOK, rec)
}
