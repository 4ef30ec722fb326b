package front

import (
	"github.com/gin-gonic/gin"
	handlers "github.com/router-for-me/CLIProxyAPIFallback/internal/http/api/front/handlers"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/maintenance"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/relay"
)

// RegisterFrontRoutes registers the caller-facing completion and status routes.
// trustCallerHeader lets X-Caller-ID replace the client IP as the caller identity.
func RegisterFrontRoutes(r *gin.Engine, service *relay.Service, gate *maintenance.Gate, trustCallerHeader bool) {
	if r == nil || service == nil {
		return
	}

	completionHandler := handlers.NewCompletionHandler(service, trustCallerHeader)
	r.POST("/v1/completions", completionHandler.Create)

	if gate != nil {
		statusHandler := handlers.NewMaintenanceStatusHandler(gate)
		r.GET("/v0/maintenance/status", statusHandler.Get)
	}
}
