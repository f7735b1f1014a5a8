package metadata

import "testing"

func sampleStructure() *Structure {
	return &Structure{
		ID:   1,
		Name: "Books",
		Slug: "books",
		Fields: []Field{
			{Slug: "title", Type: TypeTextShort},
			{Slug: "in_print", Type: TypeBoolean},
			{Slug: "archived", Type: TypeBoolean},
		},
	}
}

func TestStructureFieldLookup(t *testing.T) {
	s := sampleStructure()

	if f := s.GetField("title"); f == nil || f.Type != TypeTextShort {
		t.Fatalf("GetField(title) = %+v", f)
	}
	if s.GetField("missing") != nil {
		t.Fatal("GetField must return nil for unknown slugs")
	}
	if !s.HasField("in_print") || s.HasField("pages") {
		t.Fatal("HasField mismatch")
	}
}

func TestBoolFieldSlugs(t *testing.T) {
	got := sampleStructure().BoolFieldSlugs()
	if len(got) != 2 || got[0] != "in_print" || got[1] != "archived" {
		t.Fatalf("unexpected bool fields: %v", got)
	}
}

func TestIsReservedColumn(t *testing.T) {
	for _, col := range []string{"id", "owner_id", "created_at", "updated_at"} {
		if !IsReservedColumn(col) {
			t.Errorf("%s should be reserved", col)
		}
	}
	if IsReservedColumn("title") {
		t.Fatal("title is not reserved")
	}
}

func TestKnownType(t *testing.T) {
	for _, ft := range []string{TypeTextShort, TypeTextLong, TypeNumberInt, TypeNumberDecimal, TypeBoolean, TypeDatetime, TypeDate, TypeRelationship, TypeJSON} {
		if !KnownType(ft) {
			t.Errorf("%s should be a known type", ft)
		}
	}
	if KnownType("GEOMETRY") {
		t.Fatal("GEOMETRY is not a known type")
	}
}
