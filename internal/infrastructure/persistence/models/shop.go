package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/shopsync/backend/internal/domain/shop"
)

// ShopModel is the persistence model for shop.Shop. Its id is the tenant id.
type ShopModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key"`
	UpstreamShopID string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	Cluster        string          `gorm:"type:varchar(32);not null"`
	Locale         string          `gorm:"type:varchar(35)"`
	Credentials    []byte          `gorm:"type:bytea"`
	Status         shop.SyncStatus `gorm:"type:varchar(20);not null;default:'PENDING'"`
	LastSyncAt     *time.Time
	LastError      string    `gorm:"type:text"`
	Active         bool      `gorm:"not null;index"`
	InstalledAt    time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ShopModel) TableName() string {
	return "shops"
}

// ToDomain converts the model to a domain Shop
func (m *ShopModel) ToDomain() *shop.Shop {
	locale := language.Und
	if m.Locale != "" {
		if tag, err := language.Parse(m.Locale); err == nil {
			locale = tag
		}
	}
	return &shop.Shop{
		ID:             m.ID,
		UpstreamShopID: m.UpstreamShopID,
		Cluster:        m.Cluster,
		Locale:         locale,
		Credentials:    m.Credentials,
		Status:         m.Status,
		LastSyncAt:     m.LastSyncAt,
		LastError:      m.LastError,
		Active:         m.Active,
		InstalledAt:    m.InstalledAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the model from a domain Shop
func (m *ShopModel) FromDomain(s *shop.Shop) {
	m.ID = s.ID
	m.UpstreamShopID = s.UpstreamShopID
	m.Cluster = s.Cluster
	m.Locale = ""
	if s.Locale != language.Und {
		m.Locale = s.Locale.String()
	}
	m.Credentials = s.Credentials
	m.Status = s.Status
	m.LastSyncAt = s.LastSyncAt
	m.LastError = s.LastError
	m.Active = s.Active
	m.InstalledAt = s.InstalledAt
	m.CreatedAt = s.CreatedAt
	m.UpdatedAt = s.UpdatedAt
}
