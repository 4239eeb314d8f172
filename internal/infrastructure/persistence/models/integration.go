package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/domain/catalog"
)

// IdempotencyRecordModel records the last applied upstream version of an entity
type IdempotencyRecordModel struct {
	TenantID   uuid.UUID          `gorm:"type:uuid;primaryKey"`
	EntityType catalog.EntityType `gorm:"type:varchar(20);primaryKey"`
	UpstreamID string             `gorm:"type:varchar(64);primaryKey"`
	Version    int64              `gorm:"not null"`
	AppliedAt  time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IdempotencyRecordModel) TableName() string {
	return "idempotency_records"
}

// SearchFieldSettingModel is one configured search field of a tenant
type SearchFieldSettingModel struct {
	TenantID  uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Field     catalog.SearchField `gorm:"type:varchar(32);primaryKey"`
	Enabled   bool                `gorm:"not null"`
	Priority  int                 `gorm:"not null;default:1"`
	UpdatedAt time.Time           `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SearchFieldSettingModel) TableName() string {
	return "search_field_settings"
}

// ToDomain converts the model to a domain setting
func (m *SearchFieldSettingModel) ToDomain() catalog.SearchFieldSetting {
	return catalog.SearchFieldSetting{Field: m.Field, Enabled: m.Enabled, Priority: m.Priority}
}

// SearchProfileModel records the profile the stored search documents were built with
type SearchProfileModel struct {
	TenantID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Fingerprint string    `gorm:"type:varchar(32);not null"`
	Fields      string    `gorm:"type:text;not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SearchProfileModel) TableName() string {
	return "search_profiles"
}
