package fallback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/errs"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"

	log "github.com/sirupsen/logrus"
)

// Persister is the storage collaborator for the router configuration.
type Persister interface {
	// LoadConfig returns the stored config, or nil when nothing is stored yet.
	LoadConfig(ctx context.Context) (*Config, error)
	SaveConfig(ctx context.Context, cfg Config) error
}

// Store holds the current configuration snapshot. Readers load a pointer;
// writers are serialized and publish a fully validated copy in one swap.
type Store struct {
	current atomic.Pointer[Config]
	mu      sync.Mutex

	persister    Persister
	client       provider.Client
	probeTimeout time.Duration
	nowFn        func() time.Time
}

// NewStore constructs a Store seeded with DefaultConfig. persister and client may be nil.
func NewStore(persister Persister, client provider.Client, nowFn func() time.Time) *Store {
	if nowFn == nil {
		nowFn = time.Now
	}
	s := &Store{
		persister:    persister,
		client:       client,
		probeTimeout: settings.DefaultProbeTimeout,
		nowFn:        nowFn,
	}
	initial := DefaultConfig()
	s.current.Store(&initial)
	return s
}

// SetProbeTimeout bounds credential and model probes; d <= 0 keeps the current value.
func (s *Store) SetProbeTimeout(d time.Duration) {
	if d > 0 {
		s.probeTimeout = d
	}
}

// Get returns a snapshot of the current configuration.
func (s *Store) Get() Config {
	return s.current.Load().Clone()
}

// Load replaces the snapshot with the persisted config, or with seed when
// nothing is stored yet (seed is then persisted).
func (s *Store) Load(ctx context.Context, seed Config) (Config, error) {
	if s.persister != nil {
		stored, errLoad := s.persister.LoadConfig(ctx)
		if errLoad != nil {
			return Config{}, fmt.Errorf("fallback: load config: %w", errLoad)
		}
		if stored != nil {
			if errApply := s.Apply(*stored); errApply != nil {
				return Config{}, errApply
			}
			return s.Get(), nil
		}
	}
	return s.mutate(ctx, func(next *Config) error {
		*next = seed.Clone()
		return nil
	})
}

// Apply validates cfg and swaps it in without persisting it.
func (s *Store) Apply(cfg Config) error {
	_, err := s.apply(cfg, false)
	return err
}

// ApplyIfNewer swaps cfg in only when its UpdatedAt is after the served
// snapshot's. The comparison and the swap happen under the writer lock.
func (s *Store) ApplyIfNewer(cfg Config) (bool, error) {
	return s.apply(cfg, true)
}

func (s *Store) apply(cfg Config, newerOnly bool) (bool, error) {
	next := cfg.Clone()
	for i := range next.Fallback.Models {
		next.Fallback.Models[i] = normalizeModel(next.Fallback.Models[i])
	}
	sortModels(next.Fallback.Models)
	if errValidate := next.Validate(); errValidate != nil {
		return false, errValidate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if newerOnly && !next.UpdatedAt.After(s.current.Load().UpdatedAt) {
		return false, nil
	}
	s.current.Store(&next)
	return true, nil
}

// Update validates p against the current snapshot and applies it atomically.
func (s *Store) Update(ctx context.Context, p Patch) (Config, error) {
	return s.mutate(ctx, func(next *Config) error {
		p.applyTo(next)
		return nil
	})
}

// AddFallbackModel appends m to the cascade and re-sorts it.
func (s *Store) AddFallbackModel(ctx context.Context, m FallbackModel) (Config, error) {
	m = normalizeModel(m)
	if errValidate := validateModel("", m); errValidate != nil {
		return Config{}, errValidate
	}
	return s.mutate(ctx, func(next *Config) error {
		next.Fallback.Models = append(next.Fallback.Models, m)
		return checkModelConflicts(next.Fallback.Models)
	})
}

// UpdateFallbackModel replaces the entry identified by modelID.
func (s *Store) UpdateFallbackModel(ctx context.Context, modelID string, m FallbackModel) (Config, error) {
	m = normalizeModel(m)
	if m.ModelID == "" {
		m.ModelID = strings.TrimSpace(modelID)
	}
	if errValidate := validateModel("", m); errValidate != nil {
		return Config{}, errValidate
	}
	return s.mutate(ctx, func(next *Config) error {
		idx := next.FindModel(modelID)
		if idx < 0 {
			return &errs.NotFoundError{Kind: "fallback model", ID: modelID}
		}
		next.Fallback.Models[idx] = m
		return checkModelConflicts(next.Fallback.Models)
	})
}

// RemoveFallbackModel deletes the entry identified by modelID.
func (s *Store) RemoveFallbackModel(ctx context.Context, modelID string) (Config, error) {
	return s.mutate(ctx, func(next *Config) error {
		idx := next.FindModel(modelID)
		if idx < 0 {
			return &errs.NotFoundError{Kind: "fallback model", ID: modelID}
		}
		next.Fallback.Models = append(next.Fallback.Models[:idx], next.Fallback.Models[idx+1:]...)
		return nil
	})
}

// mutate runs fn on a private copy, validates, persists, then publishes it.
// The published snapshot is untouched when any step fails.
func (s *Store) mutate(ctx context.Context, fn func(next *Config) error) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	if errFn := fn(&next); errFn != nil {
		return Config{}, errFn
	}
	sortModels(next.Fallback.Models)
	if errValidate := next.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	next.UpdatedAt = s.nowFn().UTC()

	if s.persister != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		if errSave := s.persister.SaveConfig(ctx, next); errSave != nil {
			return Config{}, fmt.Errorf("fallback: save config: %w", errSave)
		}
	}
	s.current.Store(&next)
	return next.Clone(), nil
}

// TestResult reports a successful probe.
type TestResult = provider.ProbeResult

// TestAPIKey probes key against the primary model. Configuration is never modified.
func (s *Store) TestAPIKey(ctx context.Context, key string) (TestResult, error) {
	if errFormat := ValidateAPIKey(key); errFormat != nil {
		return TestResult{}, &errs.TestError{Target: "api key", Err: errFormat}
	}
	model := s.current.Load().Fallback.PrimaryModel
	return s.probe(ctx, "api key", strings.TrimSpace(key), model)
}

// TestFallbackModel probes m with the configured credentials.
func (s *Store) TestFallbackModel(ctx context.Context, m FallbackModel) (TestResult, error) {
	m = normalizeModel(m)
	if m.ModelID == "" {
		return TestResult{}, &errs.TestError{Target: "fallback model", Err: errs.Validation("model_id", "must not be empty")}
	}
	creds := s.current.Load().Credentials
	key := creds.PrimaryKey
	if key == "" {
		key = creds.BackupKey
	}
	if key == "" {
		return TestResult{}, &errs.TestError{Target: m.ModelID, Err: errs.Validation("primary_key", "no credential configured")}
	}
	return s.probe(ctx, m.ModelID, key, m.ModelID)
}

func (s *Store) probe(ctx context.Context, target, key, model string) (TestResult, error) {
	if s.client == nil {
		return TestResult{}, &errs.TestError{Target: target, Err: fmt.Errorf("no provider client configured")}
	}
	result, errProbe := provider.Probe(ctx, s.client, key, model, s.probeTimeout)
	if errProbe != nil {
		log.WithError(errProbe).WithField("model", model).Warn("fallback: probe failed")
		return result, &errs.TestError{Target: target, Err: errProbe}
	}
	return result, nil
}
