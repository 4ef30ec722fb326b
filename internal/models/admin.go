package models

import (
	"time"

	"gorm.io/datatypes"
)

// Admin is an operator allowed to manage the router configuration.
type Admin struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	Username     string         `gorm:"type:varchar(100);not null;uniqueIndex"`
	Password     string         `gorm:"type:varchar(255);not null"` // bcrypt hash.
	Active       bool           `gorm:"not null;default:true"`
	IsSuperAdmin bool           `gorm:"not null;default:false"`
	Permissions  datatypes.JSON `gorm:"type:jsonb"` // JSON array of permission keys.
	LastLoginAt  *time.Time     `gorm:"index"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime"`
}

// TableName overrides the default table name.
func (Admin) TableName() string {
	return "admins"
}
