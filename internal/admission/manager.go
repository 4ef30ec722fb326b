package admission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Settings captures the admission limits and backend selection.
type Settings struct {
	Limits        Limits
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() Settings

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisConfig struct {
	addr     string
	password string
	prefix   string
	db       int
}

// Manager selects a backend and enforces the free-tier quota.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memory         Backend
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisBackend   *RedisBackend
	redisClient    *redis.Client
	redisCfg       redisConfig
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = func() Settings { return Settings{} }
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memory:         NewMemoryBackend(),
		newRedisClient: newRedisClient,
	}
}

// CheckAndConsume counts one request for callerKey and reports whether it is admitted.
// Requests denied by an active cooldown are not counted.
func (m *Manager) CheckAndConsume(ctx context.Context, callerKey string) (Result, error) {
	callerKey = strings.TrimSpace(callerKey)
	if callerKey == "" {
		return Result{}, errs.Validation("caller", "must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()
	cfg := m.provider()
	limits := cfg.Limits.normalized()

	if cfg.RedisEnabled {
		if backend := m.activeRedis(ctx, cfg, now); backend != nil {
			result, errConsume := backend.Consume(ctx, callerKey, limits, now)
			if errConsume == nil {
				return result, nil
			}
			m.tripBreaker(errConsume, now)
		}
	}
	return m.memory.Consume(ctx, callerKey, limits, now)
}

// Lookup returns the stored record for callerKey.
func (m *Manager) Lookup(ctx context.Context, callerKey string) (Record, error) {
	callerKey = strings.TrimSpace(callerKey)
	if callerKey == "" {
		return Record{}, errs.Validation("caller", "must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()
	cfg := m.provider()

	if cfg.RedisEnabled {
		if backend := m.activeRedis(ctx, cfg, now); backend != nil {
			rec, found, errLookup := backend.Lookup(ctx, callerKey)
			if errLookup == nil {
				if !found {
					return Record{}, &errs.NotFoundError{Kind: "caller", ID: callerKey}
				}
				return rec, nil
			}
			m.tripBreaker(errLookup, now)
		}
	}
	rec, found, errLookup := m.memory.Lookup(ctx, callerKey)
	if errLookup != nil {
		return Record{}, errLookup
	}
	if !found {
		return Record{}, &errs.NotFoundError{Kind: "caller", ID: callerKey}
	}
	return rec, nil
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisClient == nil {
		return nil
	}
	errClose := m.redisClient.Close()
	m.redisClient = nil
	m.redisBackend = nil
	return errClose
}

func (m *Manager) activeRedis(ctx context.Context, cfg Settings, now time.Time) *RedisBackend {
	if m.isBreakerActive(now) {
		return nil
	}
	backend, errEnsure := m.ensureRedis(ctx, cfg)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return nil
	}
	return backend
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("admission: redis unavailable, falling back to memory")
}

func (m *Manager) ensureRedis(ctx context.Context, cfg Settings) (*RedisBackend, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("admission redis: missing address")
	}

	nextCfg := redisConfig{
		addr:     addr,
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if nextCfg.db < 0 {
		nextCfg.db = 0
	}
	if nextCfg.prefix == "" {
		nextCfg.prefix = settings.DefaultAdmissionRedisPrefix
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisBackend != nil && m.redisCfg == nextCfg {
		return m.redisBackend, nil
	}
	if m.redisClient != nil {
		_ = m.redisClient.Close()
		m.redisClient = nil
		m.redisBackend = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     nextCfg.addr,
		Password: nextCfg.password,
		DB:       nextCfg.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisClient = client
	m.redisBackend = NewRedisBackend(client, nextCfg.prefix)
	m.redisCfg = nextCfg
	return m.redisBackend, nil
}
