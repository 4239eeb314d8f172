package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopsync/backend/internal/domain/catalog"
)

// CatalogModel holds the columns shared by every catalog table. The pair
// (tenant_id, upstream_id) is unique per table.
type CatalogModel struct {
	ID                uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID          uuid.UUID `gorm:"type:uuid;not null;index:,unique,composite:tenant_upstream,priority:1"`
	UpstreamID        string    `gorm:"type:varchar(64);not null;index:,unique,composite:tenant_upstream,priority:2"`
	Version           int64     `gorm:"not null;default:0"`
	UpstreamUpdatedAt time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (m *CatalogModel) header() catalog.Header {
	return catalog.Header{
		ID:         m.ID,
		UpstreamID: m.UpstreamID,
		Version:    m.Version,
		UpdatedAt:  m.UpstreamUpdatedAt,
	}
}

func (m *CatalogModel) fromHeader(tenantID uuid.UUID, h *catalog.Header) {
	m.ID = h.ID
	m.TenantID = tenantID
	m.UpstreamID = h.UpstreamID
	m.Version = h.Version
	m.UpstreamUpdatedAt = h.UpdatedAt
}

// SearchColumns holds the weighted search text of a row. search_dirty marks
// rows whose search_vector lags behind the text columns.
type SearchColumns struct {
	SearchA     string `gorm:"type:text"`
	SearchB     string `gorm:"type:text"`
	SearchC     string `gorm:"type:text"`
	SearchD     string `gorm:"type:text"`
	SearchDirty bool   `gorm:"not null;index"`
}

// SetDocument stores doc and marks the row dirty
func (s *SearchColumns) SetDocument(doc catalog.SearchDocument) {
	s.SearchA = doc.A
	s.SearchB = doc.B
	s.SearchC = doc.C
	s.SearchD = doc.D
	s.SearchDirty = true
}

// SearchUpdates returns the column map used to rewrite a row's search text
func SearchUpdates(doc catalog.SearchDocument) map[string]any {
	return map[string]any{
		"search_a":     doc.A,
		"search_b":     doc.B,
		"search_c":     doc.C,
		"search_d":     doc.D,
		"search_dirty": true,
	}
}
