package ecommerce

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/domain/integration"
)

// listResponse is the envelope of every paginated listing
type listResponse struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

type webhookRequest struct {
	ItemGroup string   `json:"item_group"`
	URL       string   `json:"url"`
	Secret    string   `json:"secret"`
	Events    []string `json:"events"`
}

type webhookResponse struct {
	ID string `json:"id"`
}

// upstreamID accepts ids sent as JSON numbers or strings
type upstreamID string

func (u *upstreamID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = upstreamID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*u = upstreamID(n.String())
	return nil
}

// itemHeader holds the fields shared by every item
type itemHeader struct {
	ID        upstreamID `json:"id"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (h itemHeader) toDomain() catalog.Header {
	version := h.Version
	if version == 0 && !h.UpdatedAt.IsZero() {
		version = h.UpdatedAt.UnixMilli()
	}
	return catalog.Header{
		UpstreamID: string(h.ID),
		Version:    version,
		UpdatedAt:  h.UpdatedAt,
	}
}

type productItem struct {
	itemHeader
	CategoryID       upstreamID      `json:"category_id"`
	Code             string          `json:"code"`
	EAN              string          `json:"ean"`
	Name             string          `json:"name"`
	ShortDescription string          `json:"short_description"`
	Description      string          `json:"description"`
	Producer         string          `json:"producer"`
	Price            decimal.Decimal `json:"price"`
	Stock            int64           `json:"stock"`
	Active           bool            `json:"active"`
}

type variantItem struct {
	itemHeader
	ProductID upstreamID      `json:"product_id"`
	Code      string          `json:"code"`
	EAN       string          `json:"ean"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int64           `json:"stock"`
	Active    bool            `json:"active"`
}

type categoryItem struct {
	itemHeader
	ParentID    upstreamID `json:"parent_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Position    int        `json:"position"`
	Active      bool       `json:"active"`
}

type pageItem struct {
	itemHeader
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Active  bool   `json:"active"`
}

// decodeItem converts one raw upstream item into a validated entity. Failures
// wrap integration.ErrUpstreamRejected.
func decodeItem(entityType catalog.EntityType, raw json.RawMessage) (catalog.Entity, error) {
	var e catalog.Entity
	switch entityType {
	case catalog.EntityTypeProduct:
		var it productItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, rejectDecode(err)
		}
		e = &catalog.Product{
			Header:             it.toDomain(),
			CategoryUpstreamID: string(it.CategoryID),
			Code:               it.Code,
			EAN:                it.EAN,
			Name:               it.Name,
			ShortDescription:   it.ShortDescription,
			Description:        it.Description,
			Producer:           it.Producer,
			Price:              it.Price,
			Stock:              it.Stock,
			Active:             it.Active,
		}
	case catalog.EntityTypeVariant:
		var it variantItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, rejectDecode(err)
		}
		e = &catalog.Variant{
			Header:            it.toDomain(),
			ProductUpstreamID: string(it.ProductID),
			Code:              it.Code,
			EAN:               it.EAN,
			Name:              it.Name,
			Price:             it.Price,
			Stock:             it.Stock,
			Active:            it.Active,
		}
	case catalog.EntityTypeCategory:
		var it categoryItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, rejectDecode(err)
		}
		parent := string(it.ParentID)
		if parent == "0" {
			parent = ""
		}
		e = &catalog.Category{
			Header:           it.toDomain(),
			ParentUpstreamID: parent,
			Name:             it.Name,
			Description:      it.Description,
			Position:         it.Position,
			Active:           it.Active,
		}
	case catalog.EntityTypePage:
		var it pageItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, rejectDecode(err)
		}
		e = &catalog.Page{
			Header:  it.toDomain(),
			Slug:    it.Slug,
			Title:   it.Title,
			Content: it.Content,
			Active:  it.Active,
		}
	default:
		return nil, fmt.Errorf("%w: %v", integration.ErrUpstreamRejected, catalog.ErrInvalidEntityType)
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrUpstreamRejected, err)
	}
	return e, nil
}

func rejectDecode(err error) error {
	return fmt.Errorf("%w: undecodable item: %v", integration.ErrUpstreamRejected, err)
}

// peekID extracts the id of an item that failed to decode, for logging
func peekID(raw json.RawMessage) string {
	var h struct {
		ID upstreamID `json:"id"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return ""
	}
	return string(h.ID)
}
