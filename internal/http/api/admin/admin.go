package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/admission"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/config"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	handlers "github.com/router-for-me/CLIProxyAPIFallback/internal/http/api/admin/handlers"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api/admin/permissions"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/maintenance"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/models"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/security"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/usage"
	"gorm.io/gorm"
)

// Deps bundles the collaborators served by the admin API.
type Deps struct {
	DB        *gorm.DB
	JWT       config.JWTConfig
	Store     *fallback.Store
	Gate      *maintenance.Gate
	Recorder  *usage.Recorder
	Admission *admission.Manager
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(deps.DB, deps.JWT))
	authed.Use(adminPermissionMiddleware())

	fallbackHandler := handlers.NewFallbackHandler(deps.Store)
	authed.GET("/fallback/config", fallbackHandler.GetConfig)
	authed.PUT("/fallback/config", fallbackHandler.UpdateConfig)
	authed.POST("/fallback/models", fallbackHandler.AddModel)
	authed.POST("/fallback/models/test", fallbackHandler.TestModel)
	authed.PUT("/fallback/models/:id", fallbackHandler.UpdateModel)
	authed.DELETE("/fallback/models/:id", fallbackHandler.DeleteModel)

	apiKeyHandler := handlers.NewAPIKeyHandler(deps.Store)
	authed.POST("/api-keys/validate", apiKeyHandler.Validate)
	authed.POST("/api-keys/test", apiKeyHandler.Test)

	maintenanceHandler := handlers.NewMaintenanceHandler(deps.Gate)
	authed.GET("/maintenance", maintenanceHandler.Get)
	authed.PUT("/maintenance", maintenanceHandler.Update)

	usageHandler := handlers.NewUsageHandler(deps.Recorder)
	authed.GET("/usage/stats", usageHandler.Stats)
	authed.GET("/usage/logs", usageHandler.Logs)
	authed.DELETE("/usage/logs", usageHandler.ClearLogs)

	if deps.Admission != nil {
		admissionHandler := handlers.NewAdmissionHandler(deps.Admission)
		authed.GET("/admission/:caller", admissionHandler.Get)
	}

	permissionHandler := handlers.NewPermissionHandler()
	authed.GET("/permissions", permissionHandler.List)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Set("adminPermissions", permissions.ParsePermissions(admin.Permissions))
		c.Set("adminIsSuperAdmin", admin.IsSuperAdmin)
		c.Next()
	}
}

// adminPermissionMiddleware allows super admins and admins granted the route's key.
func adminPermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool("adminIsSuperAdmin") {
			c.Next()
			return
		}
		key := permissions.Key(c.Request.Method, c.FullPath())
		var granted []string
		if raw, ok := c.Get("adminPermissions"); ok {
			granted, _ = raw.([]string)
		}
		if !permissions.HasPermission(granted, key) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied", "permission": key})
			return
		}
		c.Next()
	}
}
