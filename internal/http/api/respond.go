// Package api holds helpers shared by the admin and front HTTP surfaces.
package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	log "github.com/sirupsen/logrus"
)

// WriteError maps a domain error onto an HTTP status and JSON body.
func WriteError(c *gin.Context, err error) {
	var (
		validationErr  *errs.ValidationError
		notFoundErr    *errs.NotFoundError
		conflictErr    *errs.ConflictError
		cooldownErr    *errs.CooldownActiveError
		maintenanceErr *errs.MaintenanceActiveError
		exhaustedErr   *errs.FailoverExhaustedError
		testErr        *errs.TestError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "field": validationErr.Field})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Error(), "field": conflictErr.Field})
	case errors.As(err, &cooldownErr):
		c.Header("Retry-After", RetryAfterSeconds(cooldownErr.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "request limit reached",
			"retry_after": int64(math.Ceil(cooldownErr.RetryAfter.Seconds())),
		})
	case errors.As(err, &maintenanceErr):
		c.Header("Retry-After", RetryAfterSeconds(maintenanceErr.Remaining))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":             "maintenance in progress",
			"message":           maintenanceErr.Message,
			"seconds_remaining": int64(math.Ceil(maintenanceErr.Remaining.Seconds())),
		})
	case errors.As(err, &exhaustedErr):
		status := http.StatusBadGateway
		if exhaustedErr.Canceled {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": exhaustedErr.Error(), "attempts": exhaustedErr.Attempts})
	case errors.As(err, &testErr):
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": testErr.Error()})
	default:
		log.WithError(err).Error("api: unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// RetryAfterSeconds formats d for the Retry-After header, rounding up.
func RetryAfterSeconds(d time.Duration) string {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	return strconv.FormatInt(seconds, 10)
}
