package metadata

// Field types recognised by the schema manager.
const (
	TypeTextShort     = "TEXT_SHORT"
	TypeTextLong      = "TEXT_LONG"
	TypeNumberInt     = "NUMBER_INT"
	TypeNumberDecimal = "NUMBER_DECIMAL"
	TypeBoolean       = "BOOLEAN"
	TypeDatetime      = "DATETIME"
	TypeDate          = "DATE"
	TypeRelationship  = "RELATIONSHIP"
	TypeJSON          = "JSON"
)

// Field describes one admin-defined column of a structure.
type Field struct {
	ID           int64   `json:"id"`
	StructureID  int64   `json:"structure_id"`
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	Type         string  `json:"type"`
	Required     bool    `json:"is_required"`
	DefaultValue *string `json:"default_value"`
}

// KnownType reports whether t is one of the recognised field types.
func KnownType(t string) bool {
	switch t {
	case TypeTextShort, TypeTextLong, TypeNumberInt, TypeNumberDecimal,
		TypeBoolean, TypeDatetime, TypeDate, TypeRelationship, TypeJSON:
		return true
	}
	return false
}
