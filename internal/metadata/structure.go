package metadata

import "strings"

// Columns the engine manages on every data table. Client payloads can
// never set these directly.
var ReservedColumns = []string{"id", "owner_id", "created_at", "updated_at"}

// Structure describes one admin-defined record type and its fields.
type Structure struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields"`
}

// TableName returns the physical table backing this structure.
func (s *Structure) TableName() string {
	return "ahoi_data_" + strings.ReplaceAll(s.Slug, "-", "_")
}

// GetField returns a pointer to the field with the given slug, or nil.
func (s *Structure) GetField(slug string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Slug == slug {
			return &s.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the structure has a field with the given slug.
func (s *Structure) HasField(slug string) bool {
	return s.GetField(slug) != nil
}

// FieldSlugs returns all field slugs.
func (s *Structure) FieldSlugs() []string {
	slugs := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		slugs[i] = f.Slug
	}
	return slugs
}

// BoolFieldSlugs returns the slugs of all BOOLEAN fields.
func (s *Structure) BoolFieldSlugs() []string {
	var slugs []string
	for _, f := range s.Fields {
		if f.Type == TypeBoolean {
			slugs = append(slugs, f.Slug)
		}
	}
	return slugs
}

// IsReservedColumn reports whether name is an engine-managed column.
func IsReservedColumn(name string) bool {
	for _, c := range ReservedColumns {
		if name == c {
			return true
		}
	}
	return false
}
