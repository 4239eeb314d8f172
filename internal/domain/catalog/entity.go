package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidEntity     = errors.New("catalog: invalid entity")
	ErrEntityNotFound    = errors.New("catalog: entity not found")
	ErrOrphanVariant     = errors.New("catalog: variant references unknown product")
	ErrCrossTenantWrite  = errors.New("catalog: write targets another tenant")
	ErrMissingTenant     = errors.New("catalog: tenant id missing from context")
	ErrInvalidEntityType = errors.New("catalog: invalid entity type")
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType names one of the four synchronized item groups. The values match
// the upstream webhook itemGroup field.
type EntityType string

const (
	EntityTypeProduct  EntityType = "products"
	EntityTypeVariant  EntityType = "variants"
	EntityTypeCategory EntityType = "categories"
	EntityTypePage     EntityType = "pages"
)

// IsValid returns true if the entity type is one of the known groups
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeProduct, EntityTypeVariant, EntityTypeCategory, EntityTypePage:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType converts s into an EntityType
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
	}
	return t, nil
}

// SyncOrder returns the entity types in the order a full sync visits them.
// Categories come before products and products before their variants.
func SyncOrder() []EntityType {
	return []EntityType{EntityTypeCategory, EntityTypeProduct, EntityTypeVariant, EntityTypePage}
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

// Entity is a catalog item received from upstream.
type Entity interface {
	Type() EntityType
	GetHeader() *Header
	Validate() error
	// SearchText returns the value of a search field, or "" when the entity has no such field.
	SearchText(field SearchField) string
}

// Header carries the identity and version common to every entity.
type Header struct {
	// ID is the internal id, assigned by the store on first insert
	ID         uuid.UUID
	UpstreamID string
	// Version increases monotonically with every upstream modification
	Version   int64
	UpdatedAt time.Time
}

// GetHeader returns h; embedding types inherit it.
func (h *Header) GetHeader() *Header {
	return h
}

func (h *Header) validate(t EntityType) error {
	if h.UpstreamID == "" {
		return fmt.Errorf("%w: %s without upstream id", ErrInvalidEntity, t)
	}
	if h.Version < 0 {
		return fmt.Errorf("%w: %s %s has negative version", ErrInvalidEntity, t, h.UpstreamID)
	}
	return nil
}

// Ref identifies an entity within a tenant.
type Ref struct {
	Type       EntityType
	UpstreamID string
}

// RefOf returns the Ref of e
func RefOf(e Entity) Ref {
	return Ref{Type: e.Type(), UpstreamID: e.GetHeader().UpstreamID}
}

// String returns "type/upstream_id"
func (r Ref) String() string {
	return string(r.Type) + "/" + r.UpstreamID
}

// Product is a sellable item. A product owns its variants.
type Product struct {
	Header
	CategoryUpstreamID string
	Code               string
	EAN                string
	Name               string
	ShortDescription   string
	Description        string
	Producer           string
	Price              decimal.Decimal
	Stock              int64
	Active             bool
}

func (p *Product) Type() EntityType { return EntityTypeProduct }

func (p *Product) Validate() error {
	if err := p.validate(EntityTypeProduct); err != nil {
		return err
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: product %s has negative price", ErrInvalidEntity, p.UpstreamID)
	}
	return nil
}

func (p *Product) SearchText(field SearchField) string {
	switch field {
	case SearchFieldName:
		return p.Name
	case SearchFieldCode:
		return p.Code
	case SearchFieldEAN:
		return p.EAN
	case SearchFieldShortDescription:
		return p.ShortDescription
	case SearchFieldDescription:
		return p.Description
	case SearchFieldProducer:
		return p.Producer
	default:
		return ""
	}
}

// Variant is a purchasable option of exactly one Product.
type Variant struct {
	Header
	ProductUpstreamID string
	Code              string
	EAN               string
	Name              string
	Price             decimal.Decimal
	Stock             int64
	Active            bool
}

func (v *Variant) Type() EntityType { return EntityTypeVariant }

func (v *Variant) Validate() error {
	if err := v.validate(EntityTypeVariant); err != nil {
		return err
	}
	if v.ProductUpstreamID == "" {
		return fmt.Errorf("%w: variant %s without product", ErrInvalidEntity, v.UpstreamID)
	}
	if v.Price.IsNegative() {
		return fmt.Errorf("%w: variant %s has negative price", ErrInvalidEntity, v.UpstreamID)
	}
	return nil
}

func (v *Variant) SearchText(field SearchField) string {
	switch field {
	case SearchFieldName:
		return v.Name
	case SearchFieldCode:
		return v.Code
	case SearchFieldEAN:
		return v.EAN
	default:
		return ""
	}
}

// Category is a node of the category tree. ParentUpstreamID is the parent
// claimed by upstream; the store only links it after cycle resolution.
type Category struct {
	Header
	ParentUpstreamID string
	Name             string
	Description      string
	Position         int
	Active           bool
}

func (c *Category) Type() EntityType { return EntityTypeCategory }

func (c *Category) Validate() error {
	return c.validate(EntityTypeCategory)
}

func (c *Category) SearchText(field SearchField) string {
	switch field {
	case SearchFieldName:
		return c.Name
	case SearchFieldDescription:
		return c.Description
	default:
		return ""
	}
}

// Page is a CMS page of the shop.
type Page struct {
	Header
	Slug    string
	Title   string
	Content string
	Active  bool
}

func (p *Page) Type() EntityType { return EntityTypePage }

func (p *Page) Validate() error {
	return p.validate(EntityTypePage)
}

func (p *Page) SearchText(field SearchField) string {
	switch field {
	case SearchFieldName:
		return p.Title
	case SearchFieldDescription:
		return p.Content
	default:
		return ""
	}
}

// NewEntity returns an empty entity of type t
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case EntityTypeProduct:
		return &Product{}, nil
	case EntityTypeVariant:
		return &Variant{}, nil
	case EntityTypeCategory:
		return &Category{}, nil
	case EntityTypePage:
		return &Page{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityType, t)
	}
}
