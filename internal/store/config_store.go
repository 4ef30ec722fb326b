package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/models"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormConfigStore persists the router configuration as one JSON settings row.
type GormConfigStore struct {
	db  *gorm.DB
	key string
}

// NewGormConfigStore constructs a GormConfigStore.
func NewGormConfigStore(db *gorm.DB) *GormConfigStore {
	return &GormConfigStore{db: db, key: settings.FallbackConfigKey}
}

// LoadConfig returns the stored config, or nil when the row does not exist yet.
func (s *GormConfigStore) LoadConfig(ctx context.Context) (*fallback.Config, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm config store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var row models.Setting
	errFind := s.db.WithContext(ctx).Where("key = ?", s.key).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("gorm config store: find: %w", errFind)
	}

	var cfg fallback.Config
	if errUnmarshal := json.Unmarshal(row.Value, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("gorm config store: decode: %w", errUnmarshal)
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = row.UpdatedAt.UTC()
	}
	return &cfg, nil
}

// SaveConfig upserts cfg.
func (s *GormConfigStore) SaveConfig(ctx context.Context, cfg fallback.Config) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm config store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, errMarshal := json.Marshal(cfg)
	if errMarshal != nil {
		return fmt.Errorf("gorm config store: encode: %w", errMarshal)
	}
	updatedAt := cfg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	record := models.Setting{
		Key:       s.key,
		Value:     datatypes.JSON(payload),
		UpdatedAt: updatedAt.UTC(),
	}
	if errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error; errUpsert != nil {
		return fmt.Errorf("gorm config store: upsert: %w", errUpsert)
	}
	return nil
}
