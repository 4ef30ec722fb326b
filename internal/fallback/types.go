// Package fallback holds the router configuration: credentials, the ranked
// fallback model list, admission limits and the maintenance window.
package fallback

import (
	"sort"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
)

// Credentials holds the provider API keys.
type Credentials struct {
	PrimaryKey string `json:"primary_key"`
	BackupKey  string `json:"backup_key"`
}

// FallbackModel is one ranked entry of the fallback cascade.
type FallbackModel struct {
	ModelID     string   `json:"model_id"`
	Priority    int      `json:"priority"`    // 1 is tried first.
	TimeoutMs   int      `json:"timeout_ms"`  // Per-attempt timeout.
	MaxRetries  int      `json:"max_retries"` // Extra attempts on the same model.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"` // 0 keeps the caller's value.
	Enabled     bool     `json:"enabled"`
	Description string   `json:"description"`
}

// Timeout returns the per-attempt timeout as a duration.
func (m FallbackModel) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// System configures the cascade itself.
type System struct {
	Enabled             bool            `json:"enabled"`
	PrimaryModel        string          `json:"primary_model"`
	PrimaryTimeoutMs    int             `json:"primary_timeout_ms"`
	Models              []FallbackModel `json:"models"`
	NotifyOnFallback    bool            `json:"notify_on_fallback"`
	NotificationMessage string          `json:"notification_message"`
	MaxFallbackAttempts int             `json:"max_fallback_attempts"`
	FallbackDelayMs     int             `json:"fallback_delay_ms"`
}

// PrimaryTimeout returns the primary/backup attempt timeout.
func (s System) PrimaryTimeout() time.Duration {
	return time.Duration(s.PrimaryTimeoutMs) * time.Millisecond
}

// FallbackDelay returns the constant pause between candidates.
func (s System) FallbackDelay() time.Duration {
	return time.Duration(s.FallbackDelayMs) * time.Millisecond
}

// EnabledModels returns enabled models in cascade order (ascending priority).
func (s System) EnabledModels() []FallbackModel {
	out := make([]FallbackModel, 0, len(s.Models))
	for _, m := range s.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	sortModels(out)
	return out
}

// AdmissionLimits configures the free-tier quota.
type AdmissionLimits struct {
	RequestLimit  int `json:"request_limit"`
	WindowHours   int `json:"window_hours"`
	CooldownHours int `json:"cooldown_hours"`
}

// Window returns the admission window length.
func (l AdmissionLimits) Window() time.Duration {
	return time.Duration(l.WindowHours) * time.Hour
}

// Cooldown returns the enforced wait after the quota is exceeded.
func (l AdmissionLimits) Cooldown() time.Duration {
	return time.Duration(l.CooldownHours) * time.Hour
}

// MaintenanceWindow gates the premium tier while active.
type MaintenanceWindow struct {
	Active        bool      `json:"active"`
	Message       string    `json:"message"`
	EndsAt        time.Time `json:"ends_at"`
	ShowCountdown bool      `json:"show_countdown"`
}

// Config is an immutable snapshot of the router configuration.
type Config struct {
	Credentials Credentials       `json:"credentials"`
	Fallback    System            `json:"fallback"`
	Admission   AdmissionLimits   `json:"admission"`
	Maintenance MaintenanceWindow `json:"maintenance"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DefaultConfig returns the configuration used before anything is persisted.
func DefaultConfig() Config {
	return Config{
		Fallback: System{
			Enabled:             true,
			PrimaryModel:        settings.DefaultPrimaryModel,
			PrimaryTimeoutMs:    settings.DefaultPrimaryTimeoutMs,
			Models:              []FallbackModel{},
			NotificationMessage: settings.DefaultFallbackNotice,
			MaxFallbackAttempts: settings.DefaultMaxFallbackAttempts,
			FallbackDelayMs:     settings.DefaultFallbackDelayMs,
		},
		Admission: AdmissionLimits{
			RequestLimit:  settings.DefaultRequestLimit,
			WindowHours:   settings.DefaultWindowHours,
			CooldownHours: settings.DefaultCooldownHours,
		},
	}
}

// Clone returns a deep copy that shares no slices or pointers with c.
func (c Config) Clone() Config {
	out := c
	out.Fallback.Models = make([]FallbackModel, len(c.Fallback.Models))
	for i, m := range c.Fallback.Models {
		if m.Temperature != nil {
			temp := *m.Temperature
			m.Temperature = &temp
		}
		out.Fallback.Models[i] = m
	}
	return out
}

// FindModel returns the index of modelID or -1.
func (c Config) FindModel(modelID string) int {
	modelID = strings.TrimSpace(modelID)
	for i, m := range c.Fallback.Models {
		if m.ModelID == modelID {
			return i
		}
	}
	return -1
}

// sortModels orders models by ascending priority, then model id.
func sortModels(models []FallbackModel) {
	sort.SliceStable(models, func(i, j int) bool {
		if models[i].Priority != models[j].Priority {
			return models[i].Priority < models[j].Priority
		}
		return models[i].ModelID < models[j].ModelID
	})
}

// normalizeModel trims text fields and fills an unset timeout with the default.
func normalizeModel(m FallbackModel) FallbackModel {
	m.ModelID = strings.TrimSpace(m.ModelID)
	m.Description = strings.TrimSpace(m.Description)
	if m.TimeoutMs == 0 {
		m.TimeoutMs = settings.DefaultModelTimeoutMs
	}
	return m
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	PrimaryKey          *string            `json:"primary_key,omitempty"`
	BackupKey           *string            `json:"backup_key,omitempty"`
	Enabled             *bool              `json:"enabled,omitempty"`
	PrimaryModel        *string            `json:"primary_model,omitempty"`
	PrimaryTimeoutMs    *int               `json:"primary_timeout_ms,omitempty"`
	Models              *[]FallbackModel   `json:"models,omitempty"`
	NotifyOnFallback    *bool              `json:"notify_on_fallback,omitempty"`
	NotificationMessage *string            `json:"notification_message,omitempty"`
	MaxFallbackAttempts *int               `json:"max_fallback_attempts,omitempty"`
	FallbackDelayMs     *int               `json:"fallback_delay_ms,omitempty"`
	RequestLimit        *int               `json:"request_limit,omitempty"`
	WindowHours         *int               `json:"window_hours,omitempty"`
	CooldownHours       *int               `json:"cooldown_hours,omitempty"`
	Maintenance         *MaintenanceWindow `json:"maintenance,omitempty"`
}

// applyTo merges p into cfg without validating.
func (p Patch) applyTo(cfg *Config) {
	if p.PrimaryKey != nil {
		cfg.Credentials.PrimaryKey = strings.TrimSpace(*p.PrimaryKey)
	}
	if p.BackupKey != nil {
		cfg.Credentials.BackupKey = strings.TrimSpace(*p.BackupKey)
	}
	if p.Enabled != nil {
		cfg.Fallback.Enabled = *p.Enabled
	}
	if p.PrimaryModel != nil {
		cfg.Fallback.PrimaryModel = strings.TrimSpace(*p.PrimaryModel)
	}
	if p.PrimaryTimeoutMs != nil {
		cfg.Fallback.PrimaryTimeoutMs = *p.PrimaryTimeoutMs
	}
	if p.Models != nil {
		models := make([]FallbackModel, 0, len(*p.Models))
		for _, m := range *p.Models {
			models = append(models, normalizeModel(m))
		}
		cfg.Fallback.Models = models
	}
	if p.NotifyOnFallback != nil {
		cfg.Fallback.NotifyOnFallback = *p.NotifyOnFallback
	}
	if p.NotificationMessage != nil {
		cfg.Fallback.NotificationMessage = strings.TrimSpace(*p.NotificationMessage)
	}
	if p.MaxFallbackAttempts != nil {
		cfg.Fallback.MaxFallbackAttempts = *p.MaxFallbackAttempts
	}
	if p.FallbackDelayMs != nil {
		cfg.Fallback.FallbackDelayMs = *p.FallbackDelayMs
	}
	if p.RequestLimit != nil {
		cfg.Admission.RequestLimit = *p.RequestLimit
	}
	if p.WindowHours != nil {
		cfg.Admission.WindowHours = *p.WindowHours
	}
	if p.CooldownHours != nil {
		cfg.Admission.CooldownHours = *p.CooldownHours
	}
	if p.Maintenance != nil {
		mw := *p.Maintenance
		mw.Message = strings.TrimSpace(mw.Message)
		if !mw.EndsAt.IsZero() {
			mw.EndsAt = mw.EndsAt.UTC()
		}
		cfg.Maintenance = mw
	}
}
