package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath         = "CONFIG_PATH"
	EnvDBConnection       = "DB_CONNECTION"
	EnvJWTSecret          = "JWT_SECRET"
	EnvJWTExpiry          = "JWT_EXPIRY"
	EnvPrimaryAPIKey      = "PRIMARY_API_KEY"
	EnvBackupAPIKey       = "BACKUP_API_KEY"
	EnvProviderBaseURL    = "PROVIDER_BASE_URL"
	EnvAdmissionRedisAddr = "ADMISSION_REDIS_ADDR"
	EnvAdminUsername      = "ADMIN_USERNAME"
	EnvAdminPassword      = "ADMIN_PASSWORD"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// ProviderConfig configures the upstream completion endpoint and the seed credentials.
type ProviderConfig struct {
	BaseURL      string        `yaml:"base-url"`
	PrimaryKey   string        `yaml:"primary-key"`
	BackupKey    string        `yaml:"backup-key"`
	PrimaryModel string        `yaml:"primary-model"`
	ProbeTimeout time.Duration `yaml:"probe-timeout"`
}

// AdmissionConfig selects the admission backend and how callers are identified.
type AdmissionConfig struct {
	RedisEnabled  bool   `yaml:"redis-enabled"`
	RedisAddr     string `yaml:"redis-addr"`
	RedisPassword string `yaml:"redis-password"`
	RedisDB       int    `yaml:"redis-db"`
	RedisPrefix   string `yaml:"redis-prefix"`
	// TrustCallerHeader keys the free tier on X-Caller-ID. Enable only behind
	// a proxy that authenticates callers and sets the header itself.
	TrustCallerHeader bool `yaml:"trust-caller-header"`
}

// AdminConfig seeds the first operator account.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ServerConfig holds the non-database settings read from the YAML config file.
type ServerConfig struct {
	Host          string          `yaml:"host"`
	Port          int             `yaml:"port"`
	Debug         bool            `yaml:"debug"`
	LogCapacity   int             `yaml:"log-capacity"`
	WatchInterval time.Duration   `yaml:"watch-interval"`
	Provider      ProviderConfig  `yaml:"provider"`
	Admission     AdmissionConfig `yaml:"admission"`
	Admin         AdminConfig     `yaml:"admin"`
}

// LoadServerConfig reads server settings from the YAML config file and applies
// environment overrides. A missing file yields defaults.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	var cfg ServerConfig
	data, errRead := os.ReadFile(configPath)
	if errRead != nil && !errors.Is(errRead, os.ErrNotExist) {
		return ServerConfig{}, fmt.Errorf("read config file: %w", errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return ServerConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}

	overrideString(&cfg.Provider.PrimaryKey, EnvPrimaryAPIKey)
	overrideString(&cfg.Provider.BackupKey, EnvBackupAPIKey)
	overrideString(&cfg.Provider.BaseURL, EnvProviderBaseURL)
	overrideString(&cfg.Admin.Username, EnvAdminUsername)
	overrideString(&cfg.Admin.Password, EnvAdminPassword)
	if addr := strings.TrimSpace(os.Getenv(EnvAdmissionRedisAddr)); addr != "" {
		cfg.Admission.RedisAddr = addr
		cfg.Admission.RedisEnabled = true
	}

	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Provider.BaseURL = strings.TrimSpace(cfg.Provider.BaseURL)
	cfg.Provider.PrimaryKey = strings.TrimSpace(cfg.Provider.PrimaryKey)
	cfg.Provider.BackupKey = strings.TrimSpace(cfg.Provider.BackupKey)
	cfg.Provider.PrimaryModel = strings.TrimSpace(cfg.Provider.PrimaryModel)
	if cfg.Provider.ProbeTimeout <= 0 {
		cfg.Provider.ProbeTimeout = settings.DefaultProbeTimeout
	}
	if strings.TrimSpace(cfg.Admission.RedisPrefix) == "" {
		cfg.Admission.RedisPrefix = settings.DefaultAdmissionRedisPrefix
	}
	if cfg.Admission.RedisDB < 0 {
		cfg.Admission.RedisDB = 0
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = settings.DefaultLogCapacity
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = settings.DefaultWatchInterval
	}
	return cfg, nil
}

func overrideString(dst *string, env string) {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		*dst = value
	}
}
