package fallback

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
)

var apiKeyPattern = regexp.MustCompile(`^sk-[A-Za-z0-9_-]{16,}$`)

const maxNoticeLength = 500

// ValidateAPIKey checks the credential format without any network call.
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errs.Validation("api_key", "must not be empty")
	}
	if !apiKeyPattern.MatchString(key) {
		return errs.Validation("api_key", "unexpected format")
	}
	return nil
}

// Validate checks every bound and uniqueness rule of the snapshot.
func (c Config) Validate() error {
	if err := validateCredentials(c.Credentials); err != nil {
		return err
	}
	if err := validateSystem(c.Fallback); err != nil {
		return err
	}
	if err := validateAdmission(c.Admission); err != nil {
		return err
	}
	return validateMaintenance(c.Maintenance)
}

func validateCredentials(creds Credentials) error {
	if creds.PrimaryKey != "" {
		if ValidateAPIKey(creds.PrimaryKey) != nil {
			return errs.Validation("primary_key", "unexpected format")
		}
	}
	if creds.BackupKey != "" {
		if ValidateAPIKey(creds.BackupKey) != nil {
			return errs.Validation("backup_key", "unexpected format")
		}
	}
	return nil
}

func validateSystem(sys System) error {
	if strings.TrimSpace(sys.PrimaryModel) == "" {
		return errs.Validation("primary_model", "must not be empty")
	}
	if sys.PrimaryTimeoutMs < settings.MinPrimaryTimeoutMs || sys.PrimaryTimeoutMs > settings.MaxPrimaryTimeoutMs {
		return errs.Validation("primary_timeout_ms", "must be between %d and %d", settings.MinPrimaryTimeoutMs, settings.MaxPrimaryTimeoutMs)
	}
	if sys.MaxFallbackAttempts < 1 || sys.MaxFallbackAttempts > settings.MaxFallbackAttempts {
		return errs.Validation("max_fallback_attempts", "must be between 1 and %d", settings.MaxFallbackAttempts)
	}
	if sys.FallbackDelayMs < 0 || sys.FallbackDelayMs > settings.MaxFallbackDelayMs {
		return errs.Validation("fallback_delay_ms", "must be between 0 and %d", settings.MaxFallbackDelayMs)
	}
	if len(sys.NotificationMessage) > maxNoticeLength {
		return errs.Validation("notification_message", "must be at most %d characters", maxNoticeLength)
	}
	for i, m := range sys.Models {
		if err := validateModel(fmt.Sprintf("models[%d].", i), m); err != nil {
			return err
		}
	}
	return checkModelConflicts(sys.Models)
}

// validateModel checks one entry's bounds; prefix namespaces the field name.
func validateModel(prefix string, m FallbackModel) error {
	if strings.TrimSpace(m.ModelID) == "" {
		return errs.Validation(prefix+"model_id", "must not be empty")
	}
	if m.Priority < settings.MinModelPriority || m.Priority > settings.MaxModelPriority {
		return errs.Validation(prefix+"priority", "must be between %d and %d", settings.MinModelPriority, settings.MaxModelPriority)
	}
	if m.TimeoutMs < settings.MinModelTimeoutMs || m.TimeoutMs > settings.MaxModelTimeoutMs {
		return errs.Validation(prefix+"timeout_ms", "must be between %d and %d", settings.MinModelTimeoutMs, settings.MaxModelTimeoutMs)
	}
	if m.MaxRetries < 0 || m.MaxRetries > settings.MaxModelRetries {
		return errs.Validation(prefix+"max_retries", "must be between 0 and %d", settings.MaxModelRetries)
	}
	if m.Temperature != nil {
		temp := *m.Temperature
		if math.IsNaN(temp) || temp < 0 || temp > settings.MaxTemperature {
			return errs.Validation(prefix+"temperature", "must be between 0 and %.1f", settings.MaxTemperature)
		}
	}
	if m.MaxTokens < 0 {
		return errs.Validation(prefix+"max_tokens", "must not be negative")
	}
	return nil
}

// checkModelConflicts enforces unique model ids and unique priorities among enabled models.
func checkModelConflicts(models []FallbackModel) error {
	ids := make(map[string]struct{}, len(models))
	priorities := make(map[int]struct{}, len(models))
	for _, m := range models {
		if _, dup := ids[m.ModelID]; dup {
			return &errs.ConflictError{Field: "model_id", Value: m.ModelID}
		}
		ids[m.ModelID] = struct{}{}
		if !m.Enabled {
			continue
		}
		if _, dup := priorities[m.Priority]; dup {
			return &errs.ConflictError{Field: "priority", Value: strconv.Itoa(m.Priority)}
		}
		priorities[m.Priority] = struct{}{}
	}
	return nil
}

func validateAdmission(limits AdmissionLimits) error {
	if limits.RequestLimit < 1 {
		return errs.Validation("request_limit", "must be at least 1")
	}
	if limits.WindowHours < 1 {
		return errs.Validation("window_hours", "must be at least 1")
	}
	if limits.CooldownHours < 1 {
		return errs.Validation("cooldown_hours", "must be at least 1")
	}
	return nil
}

func validateMaintenance(mw MaintenanceWindow) error {
	if mw.Active && mw.EndsAt.IsZero() {
		return errs.Validation("maintenance.ends_at", "required while maintenance is active")
	}
	if len(mw.Message) > maxNoticeLength {
		return errs.Validation("maintenance.message", "must be at most %d characters", maxNoticeLength)
	}
	return nil
}
