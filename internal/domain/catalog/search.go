package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownSearchField   = errors.New("catalog: unknown search field")
	ErrDuplicateSearchField = errors.New("catalog: duplicate search field")
	ErrInvalidPriority      = errors.New("catalog: search priority must be positive")
)

// SearchField is one of the fields that may feed the search vector.
type SearchField string

const (
	SearchFieldName             SearchField = "name"
	SearchFieldCode             SearchField = "code"
	SearchFieldEAN              SearchField = "ean"
	SearchFieldShortDescription SearchField = "short_description"
	SearchFieldDescription      SearchField = "description"
	SearchFieldProducer         SearchField = "producer"
)

// AllSearchFields returns the allowed search fields
func AllSearchFields() []SearchField {
	return []SearchField{
		SearchFieldName, SearchFieldCode, SearchFieldEAN,
		SearchFieldShortDescription, SearchFieldDescription, SearchFieldProducer,
	}
}

// IsValid returns true if f is an allowed search field
func (f SearchField) IsValid() bool {
	for _, allowed := range AllSearchFields() {
		if f == allowed {
			return true
		}
	}
	return false
}

// SearchFieldSetting is a tenant's configuration for a single search field.
// Lower Priority values weigh more.
type SearchFieldSetting struct {
	Field    SearchField `json:"field"`
	Enabled  bool        `json:"enabled"`
	Priority int         `json:"priority"`
}

// SearchWeight is a Postgres tsvector weight label.
type SearchWeight byte

const (
	WeightA SearchWeight = 'A'
	WeightB SearchWeight = 'B'
	WeightC SearchWeight = 'C'
	WeightD SearchWeight = 'D'
)

// SearchProfile is a validated, priority-ordered list of enabled search fields.
type SearchProfile struct {
	fields []SearchFieldSetting
}

// NewSearchProfile validates settings and keeps the enabled ones ordered by priority.
// Ties keep the order of the input list.
func NewSearchProfile(settings []SearchFieldSetting) (SearchProfile, error) {
	seen := make(map[SearchField]struct{}, len(settings))
	enabled := make([]SearchFieldSetting, 0, len(settings))
	for _, s := range settings {
		if !s.Field.IsValid() {
			return SearchProfile{}, fmt.Errorf("%w: %q", ErrUnknownSearchField, s.Field)
		}
		if _, dup := seen[s.Field]; dup {
			return SearchProfile{}, fmt.Errorf("%w: %q", ErrDuplicateSearchField, s.Field)
		}
		seen[s.Field] = struct{}{}
		if s.Priority < 1 {
			return SearchProfile{}, fmt.Errorf("%w: %q has %d", ErrInvalidPriority, s.Field, s.Priority)
		}
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return SearchProfile{fields: enabled}, nil
}

// DefaultSearchProfile is used for tenants without search configuration.
func DefaultSearchProfile() SearchProfile {
	p, _ := NewSearchProfile([]SearchFieldSetting{
		{Field: SearchFieldName, Enabled: true, Priority: 1},
		{Field: SearchFieldCode, Enabled: true, Priority: 2},
		{Field: SearchFieldShortDescription, Enabled: true, Priority: 3},
		{Field: SearchFieldDescription, Enabled: true, Priority: 4},
	})
	return p
}

// Fields returns the enabled fields in weight order
func (p SearchProfile) Fields() []SearchFieldSetting {
	out := make([]SearchFieldSetting, len(p.fields))
	copy(out, p.fields)
	return out
}

// IsZero reports whether the profile was never initialised
func (p SearchProfile) IsZero() bool {
	return p.fields == nil
}

// Fingerprint identifies the profile contents; equal profiles have equal fingerprints.
func (p SearchProfile) Fingerprint() string {
	var b strings.Builder
	for _, f := range p.fields {
		b.WriteString(string(f.Field))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(f.Priority))
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// weightFor maps the i-th enabled field to a weight. The first three fields
// get A, B and C; everything after shares D.
func weightFor(i int) SearchWeight {
	switch i {
	case 0:
		return WeightA
	case 1:
		return WeightB
	case 2:
		return WeightC
	default:
		return WeightD
	}
}

// SearchDocument is the weighted text of an entity that the store turns into a search vector.
type SearchDocument struct {
	A, B, C, D string
}

// Document builds the search document of e under the profile
func (p SearchProfile) Document(e Entity) SearchDocument {
	var parts [4][]string
	for i, f := range p.fields {
		text := strings.TrimSpace(e.SearchText(f.Field))
		if text == "" {
			continue
		}
		w := weightFor(i) - WeightA
		parts[w] = append(parts[w], text)
	}
	return SearchDocument{
		A: strings.Join(parts[0], " "),
		B: strings.Join(parts[1], " "),
		C: strings.Join(parts[2], " "),
		D: strings.Join(parts[3], " "),
	}
}
