package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopsync/backend/internal/domain/catalog"
)

// ProductModel is the persistence model for catalog.Product
type ProductModel struct {
	CatalogModel
	SearchColumns
	CategoryUpstreamID string          `gorm:"type:varchar(64);index"`
	Code               string          `gorm:"type:varchar(100)"`
	EAN                string          `gorm:"type:varchar(32)"`
	Name               string          `gorm:"type:varchar(500)"`
	ShortDescription   string          `gorm:"type:text"`
	Description        string          `gorm:"type:text"`
	Producer           string          `gorm:"type:varchar(255)"`
	Price              decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Stock              int64           `gorm:"not null;default:0"`
	Active             bool            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "catalog_products"
}

// ToDomain converts the model to a domain Product
func (m *ProductModel) ToDomain() *catalog.Product {
	return &catalog.Product{
		Header:             m.header(),
		CategoryUpstreamID: m.CategoryUpstreamID,
		Code:               m.Code,
		EAN:                m.EAN,
		Name:               m.Name,
		ShortDescription:   m.ShortDescription,
		Description:        m.Description,
		Producer:           m.Producer,
		Price:              m.Price,
		Stock:              m.Stock,
		Active:             m.Active,
	}
}

// FromDomain populates the model from a domain Product
func (m *ProductModel) FromDomain(tenantID uuid.UUID, p *catalog.Product) {
	m.fromHeader(tenantID, &p.Header)
	m.CategoryUpstreamID = p.CategoryUpstreamID
	m.Code = p.Code
	m.EAN = p.EAN
	m.Name = p.Name
	m.ShortDescription = p.ShortDescription
	m.Description = p.Description
	m.Producer = p.Producer
	m.Price = p.Price
	m.Stock = p.Stock
	m.Active = p.Active
}

// VariantModel is the persistence model for catalog.Variant
type VariantModel struct {
	CatalogModel
	SearchColumns
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductUpstreamID string          `gorm:"type:varchar(64);not null;index"`
	Code              string          `gorm:"type:varchar(100)"`
	EAN               string          `gorm:"type:varchar(32)"`
	Name              string          `gorm:"type:varchar(500)"`
	Price             decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Stock             int64           `gorm:"not null;default:0"`
	Active            bool            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (VariantModel) TableName() string {
	return "catalog_variants"
}

// ToDomain converts the model to a domain Variant
func (m *VariantModel) ToDomain() *catalog.Variant {
	return &catalog.Variant{
		Header:            m.header(),
		ProductUpstreamID: m.ProductUpstreamID,
		Code:              m.Code,
		EAN:               m.EAN,
		Name:              m.Name,
		Price:             m.Price,
		Stock:             m.Stock,
		Active:            m.Active,
	}
}

// FromDomain populates the model from a domain Variant. ProductID is set by the store.
func (m *VariantModel) FromDomain(tenantID uuid.UUID, v *catalog.Variant) {
	m.fromHeader(tenantID, &v.Header)
	m.ProductUpstreamID = v.ProductUpstreamID
	m.Code = v.Code
	m.EAN = v.EAN
	m.Name = v.Name
	m.Price = v.Price
	m.Stock = v.Stock
	m.Active = v.Active
}

// CategoryModel is the persistence model for catalog.Category. ClaimedParentUpstreamID
// is the parent reported upstream; ParentUpstreamID and ParentID hold the
// accepted link after cycle resolution.
type CategoryModel struct {
	CatalogModel
	SearchColumns
	ClaimedParentUpstreamID string     `gorm:"type:varchar(64)"`
	ParentUpstreamID        string     `gorm:"type:varchar(64)"`
	ParentID                *uuid.UUID `gorm:"type:uuid;index"`
	Name                    string     `gorm:"type:varchar(500)"`
	Description             string     `gorm:"type:text"`
	Position                int        `gorm:"not null;default:0"`
	Active                  bool       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CategoryModel) TableName() string {
	return "catalog_categories"
}

// ToDomain converts the model to a domain Category carrying its accepted parent
func (m *CategoryModel) ToDomain() *catalog.Category {
	return &catalog.Category{
		Header:           m.header(),
		ParentUpstreamID: m.ParentUpstreamID,
		Name:             m.Name,
		Description:      m.Description,
		Position:         m.Position,
		Active:           m.Active,
	}
}

// FromDomain populates the model from a domain Category. The parent is only
// recorded as claimed; linking happens separately.
func (m *CategoryModel) FromDomain(tenantID uuid.UUID, c *catalog.Category) {
	m.fromHeader(tenantID, &c.Header)
	m.ClaimedParentUpstreamID = c.ParentUpstreamID
	m.Name = c.Name
	m.Description = c.Description
	m.Position = c.Position
	m.Active = c.Active
}

// PageModel is the persistence model for catalog.Page
type PageModel struct {
	CatalogModel
	SearchColumns
	Slug    string `gorm:"type:varchar(255)"`
	Title   string `gorm:"type:varchar(500)"`
	Content string `gorm:"type:text"`
	Active  bool   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PageModel) TableName() string {
	return "catalog_pages"
}

// ToDomain converts the model to a domain Page
func (m *PageModel) ToDomain() *catalog.Page {
	return &catalog.Page{
		Header:  m.header(),
		Slug:    m.Slug,
		Title:   m.Title,
		Content: m.Content,
		Active:  m.Active,
	}
}

// FromDomain populates the model from a domain Page
func (m *PageModel) FromDomain(tenantID uuid.UUID, p *catalog.Page) {
	m.fromHeader(tenantID, &p.Header)
	m.Slug = p.Slug
	m.Title = p.Title
	m.Content = p.Content
	m.Active = p.Active
}

// TableFor returns the table that stores an entity type
func TableFor(t catalog.EntityType) (string, bool) {
	switch t {
	case catalog.EntityTypeProduct:
		return ProductModel{}.TableName(), true
	case catalog.EntityTypeVariant:
		return VariantModel{}.TableName(), true
	case catalog.EntityTypeCategory:
		return CategoryModel{}.TableName(), true
	case catalog.EntityTypePage:
		return PageModel{}.TableName(), true
	default:
		return "", false
	}
}

// CatalogModels lists every catalog model, for migrations in tests
func CatalogModels() []any {
	return []any{&ProductModel{}, &VariantModel{}, &CategoryModel{}, &PageModel{}}
}

// NewModelFor returns an empty model of an entity type
func NewModelFor(t catalog.EntityType) (CatalogRow, bool) {
	switch t {
	case catalog.EntityTypeProduct:
		return &ProductModel{}, true
	case catalog.EntityTypeVariant:
		return &VariantModel{}, true
	case catalog.EntityTypeCategory:
		return &CategoryModel{}, true
	case catalog.EntityTypePage:
		return &PageModel{}, true
	default:
		return nil, false
	}
}

// CatalogRow is implemented by every catalog model
type CatalogRow interface {
	Base() *CatalogModel
	Search() *SearchColumns
	Entity() catalog.Entity
}

func (m *ProductModel) Base() *CatalogModel    { return &m.CatalogModel }
func (m *ProductModel) Search() *SearchColumns { return &m.SearchColumns }
func (m *ProductModel) Entity() catalog.Entity { return m.ToDomain() }

func (m *VariantModel) Base() *CatalogModel    { return &m.CatalogModel }
func (m *VariantModel) Search() *SearchColumns { return &m.SearchColumns }
func (m *VariantModel) Entity() catalog.Entity { return m.ToDomain() }

func (m *CategoryModel) Base() *CatalogModel    { return &m.CatalogModel }
func (m *CategoryModel) Search() *SearchColumns { return &m.SearchColumns }
func (m *CategoryModel) Entity() catalog.Entity { return m.ToDomain() }

func (m *PageModel) Base() *CatalogModel    { return &m.CatalogModel }
func (m *PageModel) Search() *SearchColumns { return &m.SearchColumns }
func (m *PageModel) Entity() catalog.Entity { return m.ToDomain() }

// RowFromDomain converts an entity into its model
func RowFromDomain(tenantID uuid.UUID, e catalog.Entity) (CatalogRow, bool) {
	switch v := e.(type) {
	case *catalog.Product:
		m := &ProductModel{}
		m.FromDomain(tenantID, v)
		return m, true
	case *catalog.Variant:
		m := &VariantModel{}
		m.FromDomain(tenantID, v)
		return m, true
	case *catalog.Category:
		m := &CategoryModel{}
		m.FromDomain(tenantID, v)
		return m, true
	case *catalog.Page:
		m := &PageModel{}
		m.FromDomain(tenantID, v)
		return m, true
	default:
		return nil, false
	}
}
