package settings

import "time"

// DB config keys and defaults for the failover router.
const (
	// FallbackConfigKey is the settings row holding the persisted router config.
	FallbackConfigKey = "FALLBACK_SYSTEM_CONFIG"

	// DefaultPrimaryModel is used when no primary model is configured.
	DefaultPrimaryModel = "gpt-4o-mini"
	// DefaultPrimaryTimeoutMs is the fallback primary/backup attempt timeout.
	DefaultPrimaryTimeoutMs = 8000
	// MinPrimaryTimeoutMs is the lower bound for primary_timeout_ms.
	MinPrimaryTimeoutMs = 5000
	// MaxPrimaryTimeoutMs is the upper bound for primary_timeout_ms.
	MaxPrimaryTimeoutMs = 30000

	// DefaultModelTimeoutMs is applied to fallback models created without a timeout.
	DefaultModelTimeoutMs = 5000
	// MinModelTimeoutMs is the lower bound for a fallback model timeout.
	MinModelTimeoutMs = 3000
	// MaxModelTimeoutMs is the upper bound for a fallback model timeout.
	MaxModelTimeoutMs = 15000
	// MinModelPriority is the highest rank a fallback model can hold.
	MinModelPriority = 1
	// MaxModelPriority is the lowest rank a fallback model can hold.
	MaxModelPriority = 10
	// MaxModelRetries caps per-model retries.
	MaxModelRetries = 5
	// MaxTemperature caps the per-model temperature override.
	MaxTemperature = 2.0

	// DefaultMaxFallbackAttempts caps how many fallback models one dispatch may try.
	DefaultMaxFallbackAttempts = 3
	// MaxFallbackAttempts is the upper bound for max_fallback_attempts.
	MaxFallbackAttempts = 10
	// DefaultFallbackDelayMs is the constant pause between candidates.
	DefaultFallbackDelayMs = 500
	// MaxFallbackDelayMs is the upper bound for fallback_delay_ms.
	MaxFallbackDelayMs = 10000
	// DefaultFallbackNotice is shown when a fallback model served the request.
	DefaultFallbackNotice = "The primary model is busy; this answer was produced by a backup model."

	// DefaultRequestLimit is the free-tier request quota per window.
	DefaultRequestLimit = 20
	// DefaultWindowHours is the free-tier admission window length.
	DefaultWindowHours = 24
	// DefaultCooldownHours is the enforced wait after the quota is exceeded.
	DefaultCooldownHours = 24
	// DefaultAdmissionRedisPrefix is the fallback Redis key prefix for admission records.
	DefaultAdmissionRedisPrefix = "cpaf:adm"

	// DefaultLogCapacity bounds the in-memory dispatch log.
	DefaultLogCapacity = 1000
	// DefaultProbeTimeout bounds credential and model probes.
	DefaultProbeTimeout = 10 * time.Second
	// DefaultWatchInterval controls how often the persisted config is polled.
	DefaultWatchInterval = 5 * time.Second
)
