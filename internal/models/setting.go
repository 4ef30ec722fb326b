package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores one JSON-encoded runtime setting.
type Setting struct {
	Key       string         `gorm:"type:varchar(255);primaryKey"` // Setting key.
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`          // JSON payload.
	UpdatedAt time.Time      `gorm:"not null;index"`               // Last write.
}

// TableName overrides the default table name.
func (Setting) TableName() string {
	return "settings"
}
