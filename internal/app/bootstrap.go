package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/config"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/models"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// minAdminPasswordLength is the shortest accepted admin password.
const minAdminPasswordLength = 6

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// EnsureAdmin creates the first super admin from the configured credentials
// when the admins table is empty. It reports whether an account was created.
func EnsureAdmin(conn *gorm.DB, adminCfg config.AdminConfig) (bool, error) {
	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return false, errInit
	}
	if initialized {
		return false, nil
	}
	username := strings.TrimSpace(adminCfg.Username)
	if username == "" || adminCfg.Password == "" {
		log.Warn("no admin account exists and no admin credentials are configured; admin API is unusable")
		return false, nil
	}
	if errCreate := CreateAdminUserWithConn(conn, username, adminCfg.Password); errCreate != nil {
		return false, errCreate
	}
	log.WithField("username", username).Info("created initial admin account")
	return true, nil
}

// CreateAdminUserWithConn creates a super admin account.
func CreateAdminUserWithConn(conn *gorm.DB, username, password string) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}
	if len(password) < minAdminPasswordLength {
		return fmt.Errorf("admin password must be at least %d characters", minAdminPasswordLength)
	}

	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	now := time.Now().UTC()
	admin := models.Admin{
		Username:     username,
		Password:     hashedPassword,
		Active:       true,
		IsSuperAdmin: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	return nil
}

// seedConfig is persisted when the database holds no router config yet.
func seedConfig(providerCfg config.ProviderConfig) fallback.Config {
	cfg := fallback.DefaultConfig()
	cfg.Credentials.PrimaryKey = providerCfg.PrimaryKey
	cfg.Credentials.BackupKey = providerCfg.BackupKey
	if providerCfg.PrimaryModel != "" {
		cfg.Fallback.PrimaryModel = providerCfg.PrimaryModel
	}
	return cfg
}

// applyCredentialOverrides writes keys supplied by the config file or
// environment over the stored ones when they differ.
func applyCredentialOverrides(ctx context.Context, store *fallback.Store, providerCfg config.ProviderConfig) error {
	current := store.Get().Credentials
	var patch fallback.Patch
	changed := false
	if key := providerCfg.PrimaryKey; key != "" && key != current.PrimaryKey {
		patch.PrimaryKey = &key
		changed = true
	}
	if key := providerCfg.BackupKey; key != "" && key != current.BackupKey {
		patch.BackupKey = &key
		changed = true
	}
	if !changed {
		return nil
	}
	if _, errUpdate := store.Update(ctx, patch); errUpdate != nil {
		return fmt.Errorf("apply configured api keys: %w", errUpdate)
	}
	log.Info("applied provider api keys from configuration")
	return nil
}

// ensureJWTSecret generates an ephemeral secret when none is configured.
// Tokens issued with it do not survive a restart.
func ensureJWTSecret(jwtCfg config.JWTConfig) (config.JWTConfig, error) {
	if strings.TrimSpace(jwtCfg.Secret) != "" {
		return jwtCfg, nil
	}
	secret, errGen := security.GenerateRandomString(32)
	if errGen != nil {
		return jwtCfg, fmt.Errorf("generate jwt secret: %w", errGen)
	}
	log.Warn("jwt secret not configured; using an ephemeral secret")
	jwtCfg.Secret = secret
	return jwtCfg, nil
}

// corsMiddleware enables permissive CORS for browser-based admin tools.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Caller-ID")
		c.Header("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Remaining, X-RateLimit-Reset")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
