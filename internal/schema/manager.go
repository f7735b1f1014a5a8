package schema

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/store"
)

// ValidationError marks user-correctable schema input problems so the
// HTTP layer can answer 400 instead of 500.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Structure slugs may be hyphenated (TableName maps hyphens to
// underscores); field slugs become raw column identifiers and may not.
var (
	slugPattern      = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	fieldSlugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// SQL keywords that may not be used as structure or field slugs.
var reservedWords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true,
	"where": true, "from": true, "table": true, "database": true,
	"text": true, "longtext": true, "int": true, "integer": true,
	"varchar": true, "char": true, "decimal": true, "float": true,
	"key": true, "primary": true, "index": true, "foreign": true,
	"order": true, "group": true, "by": true, "as": true, "on": true,
	"date": true, "datetime": true, "timestamp": true, "boolean": true,
	"true": true, "false": true, "null": true,
}

type FieldInput struct {
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	Type         string  `json:"type"`
	Required     bool    `json:"is_required"`
	DefaultValue *string `json:"default_value"`
}

type CreateStructureInput struct {
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	Description string       `json:"description"`
	Fields      []FieldInput `json:"fields"`
}

// Manager owns all schema mutations: it keeps the metadata tables and
// the physical data tables in step, and refreshes the registry after
// every change. DDL for a given structure is serialized through a
// per-slug mutex.
type Manager struct {
	store    *store.Store
	registry *metadata.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(st *store.Store, reg *metadata.Registry) *Manager {
	return &Manager{
		store:    st,
		registry: reg,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) slugLock(slug string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[slug]
	if !ok {
		l = &sync.Mutex{}
		m.locks[slug] = l
	}
	return l
}

// CreateStructure registers a new structure and creates its data table.
// When the CREATE TABLE fails the metadata rows are rolled back so the
// registry never advertises a structure without a backing table.
func (m *Manager) CreateStructure(ctx context.Context, in CreateStructureInput) (*metadata.Structure, error) {
	if in.Name == "" {
		return nil, validationf("name is required")
	}
	if err := validateSlug(in.Slug); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(in.Fields))
	for _, f := range in.Fields {
		if err := validateField(f); err != nil {
			return nil, err
		}
		if seen[f.Slug] {
			return nil, validationf("duplicate field slug %q", f.Slug)
		}
		seen[f.Slug] = true
	}

	lock := m.slugLock(in.Slug)
	lock.Lock()
	defer lock.Unlock()

	dialect := m.store.Dialect
	pb := dialect.NewParamBuilder()
	structureID, err := store.InsertID(ctx, m.store.DB, dialect,
		fmt.Sprintf("INSERT INTO ahoi_structures (name, slug, description, created_at) VALUES (%s, %s, %s, %s)",
			pb.Add(in.Name), pb.Add(in.Slug), pb.Add(in.Description), pb.Add(store.Now())),
		pb.Params()...)
	if err != nil {
		return nil, store.MapError(dialect, err)
	}

	for _, f := range in.Fields {
		if err := m.insertFieldRow(ctx, structureID, f); err != nil {
			m.rollbackStructure(ctx, structureID)
			return nil, store.MapError(dialect, err)
		}
	}

	s := &metadata.Structure{ID: structureID, Name: in.Name, Slug: in.Slug, Description: in.Description}
	if err := m.createTable(ctx, s, in.Fields); err != nil {
		m.rollbackStructure(ctx, structureID)
		return nil, fmt.Errorf("create table for %s: %w", in.Slug, err)
	}

	if err := metadata.Reload(ctx, m.store, m.registry); err != nil {
		return nil, err
	}
	return m.registry.GetStructure(in.Slug), nil
}

// AddField appends a column to an existing structure.
func (m *Manager) AddField(ctx context.Context, structureSlug string, in FieldInput) (*metadata.Structure, error) {
	if err := validateField(in); err != nil {
		return nil, err
	}

	lock := m.slugLock(structureSlug)
	lock.Lock()
	defer lock.Unlock()

	s := m.registry.GetStructure(structureSlug)
	if s == nil {
		return nil, store.ErrNotFound
	}
	if s.HasField(in.Slug) {
		return nil, store.ErrUniqueViolation
	}

	if err := m.insertFieldRow(ctx, s.ID, in); err != nil {
		return nil, store.MapError(m.store.Dialect, err)
	}

	ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", s.TableName(), columnDDL(m.store.Dialect, in))
	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		// Roll the metadata row back so registry and table stay in step.
		m.deleteFieldRow(ctx, s.ID, in.Slug)
		return nil, fmt.Errorf("add column %s.%s: %w", structureSlug, in.Slug, err)
	}

	if err := metadata.Reload(ctx, m.store, m.registry); err != nil {
		return nil, err
	}
	return m.registry.GetStructure(structureSlug), nil
}

// DropField removes a column from an existing structure.
func (m *Manager) DropField(ctx context.Context, structureSlug, fieldSlug string) error {
	lock := m.slugLock(structureSlug)
	lock.Lock()
	defer lock.Unlock()

	s := m.registry.GetStructure(structureSlug)
	if s == nil {
		return store.ErrNotFound
	}
	f := s.GetField(fieldSlug)
	if f == nil {
		return store.ErrNotFound
	}

	ddl := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", s.TableName(), fieldSlug)
	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("drop column %s.%s: %w", structureSlug, fieldSlug, err)
	}
	if err := m.deleteFieldRow(ctx, s.ID, fieldSlug); err != nil {
		return err
	}

	return metadata.Reload(ctx, m.store, m.registry)
}

// DeleteStructure drops the data table and removes all metadata for the
// structure. Field rows go with the structure via ON DELETE CASCADE.
func (m *Manager) DeleteStructure(ctx context.Context, slug string) error {
	lock := m.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	s := m.registry.GetStructure(slug)
	if s == nil {
		return store.ErrNotFound
	}

	if _, err := m.store.DB.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.TableName()); err != nil {
		return fmt.Errorf("drop table for %s: %w", slug, err)
	}

	pb := m.store.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, m.store.DB,
		"DELETE FROM ahoi_structures WHERE id = "+pb.Add(s.ID), pb.Params()...); err != nil {
		return err
	}

	return metadata.Reload(ctx, m.store, m.registry)
}

// EnsureTables recreates missing data tables for registered structures.
// Useful after restoring metadata from a dump.
func (m *Manager) EnsureTables(ctx context.Context) error {
	for _, s := range m.registry.AllStructures() {
		exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, s.TableName())
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		log.Printf("WARN: recreating missing table %s for structure %s", s.TableName(), s.Slug)
		fields := make([]FieldInput, len(s.Fields))
		for i, f := range s.Fields {
			fields[i] = FieldInput{Name: f.Name, Slug: f.Slug, Type: f.Type, Required: f.Required, DefaultValue: f.DefaultValue}
		}
		if err := m.createTable(ctx, s, fields); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) insertFieldRow(ctx context.Context, structureID int64, f FieldInput) error {
	pb := m.store.Dialect.NewParamBuilder()
	var def any
	if f.DefaultValue != nil {
		def = *f.DefaultValue
	}
	_, err := store.Exec(ctx, m.store.DB,
		fmt.Sprintf("INSERT INTO ahoi_fields (structure_id, name, slug, type, is_required, default_value, created_at) VALUES (%s, %s, %s, %s, %s, %s, %s)",
			pb.Add(structureID), pb.Add(f.Name), pb.Add(f.Slug), pb.Add(f.Type),
			pb.Add(f.Required), pb.Add(def), pb.Add(store.Now())),
		pb.Params()...)
	return err
}

func (m *Manager) deleteFieldRow(ctx context.Context, structureID int64, fieldSlug string) error {
	pb := m.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, m.store.DB,
		fmt.Sprintf("DELETE FROM ahoi_fields WHERE structure_id = %s AND slug = %s",
			pb.Add(structureID), pb.Add(fieldSlug)),
		pb.Params()...)
	return err
}

func (m *Manager) rollbackStructure(ctx context.Context, structureID int64) {
	pb := m.store.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, m.store.DB,
		"DELETE FROM ahoi_structures WHERE id = "+pb.Add(structureID), pb.Params()...); err != nil {
		log.Printf("ERROR: rollback structure %d: %v", structureID, err)
	}
}

func (m *Manager) createTable(ctx context.Context, s *metadata.Structure, fields []FieldInput) error {
	dialect := m.store.Dialect
	cols := []string{
		"id " + dialect.SerialPrimaryKey(),
		"owner_id " + dialect.ColumnType(metadata.TypeNumberInt),
		"created_at " + dialect.ColumnType(metadata.TypeDatetime) + " NOT NULL",
		"updated_at " + dialect.ColumnType(metadata.TypeDatetime) + " NOT NULL",
	}
	for _, f := range fields {
		cols = append(cols, columnDDL(dialect, f))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", s.TableName(), strings.Join(cols, ",\n    "))
	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		return err
	}

	// Ownership scoping filters on owner_id on every list.
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_owner_id ON %s (owner_id)", s.TableName(), s.TableName())
	if _, err := m.store.DB.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create owner index for %s: %w", s.Slug, err)
	}
	return nil
}

func columnDDL(dialect store.Dialect, f FieldInput) string {
	col := f.Slug + " " + dialect.ColumnType(f.Type)
	if f.DefaultValue != nil {
		col += " DEFAULT " + defaultLiteral(f.Type, *f.DefaultValue)
	}
	if f.Required && f.DefaultValue == nil {
		// NOT NULL without a default would break ALTER on populated tables.
		col += " NOT NULL DEFAULT " + zeroLiteral(f.Type)
	} else if f.Required {
		col += " NOT NULL"
	}
	return col
}

func defaultLiteral(fieldType, value string) string {
	switch fieldType {
	case metadata.TypeNumberInt, metadata.TypeNumberDecimal, metadata.TypeRelationship:
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return value
		}
		return "0"
	case metadata.TypeBoolean:
		switch strings.ToLower(value) {
		case "1", "true", "on", "yes":
			return "TRUE"
		}
		return "FALSE"
	default:
		return "'" + strings.ReplaceAll(value, "'", "''") + "'"
	}
}

func zeroLiteral(fieldType string) string {
	switch fieldType {
	case metadata.TypeNumberInt, metadata.TypeNumberDecimal, metadata.TypeRelationship:
		return "0"
	case metadata.TypeBoolean:
		return "FALSE"
	default:
		return "''"
	}
}

func validateSlug(slug string) error {
	if slug == "" {
		return validationf("slug is required")
	}
	if len(slug) > 64 {
		return validationf("slug %q is too long (max 64)", slug)
	}
	if !slugPattern.MatchString(slug) {
		return validationf("slug %q must start with a letter and contain only lowercase letters, digits, hyphens and underscores", slug)
	}
	if reservedWords[strings.ReplaceAll(slug, "-", "_")] || reservedWords[slug] {
		return validationf("slug %q is a reserved word", slug)
	}
	return nil
}

func validateField(f FieldInput) error {
	if f.Name == "" {
		return validationf("field name is required")
	}
	if err := validateSlug(f.Slug); err != nil {
		return err
	}
	if !fieldSlugPattern.MatchString(f.Slug) {
		return validationf("field slug %q must contain only lowercase letters, digits and underscores", f.Slug)
	}
	if metadata.IsReservedColumn(f.Slug) {
		return validationf("field slug %q is managed by the engine", f.Slug)
	}
	if !metadata.KnownType(f.Type) {
		return validationf("unknown field type %q", f.Type)
	}
	return nil
}
