package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) SerialPrimaryKey() string  { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (d *SQLiteDialect) ReturningIDClause() string { return "" }
func (d *SQLiteDialect) NeedsBoolFix() bool        { return true }

func (d *SQLiteDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "TEXT_SHORT":
		return "TEXT"
	case "TEXT_LONG":
		return "TEXT"
	case "NUMBER_INT":
		return "INTEGER"
	case "NUMBER_DECIMAL":
		return "REAL"
	case "BOOLEAN":
		return "INTEGER"
	case "DATETIME":
		return "TEXT"
	case "DATE":
		return "TEXT"
	case "RELATIONSHIP":
		return "INTEGER"
	case "JSON":
		return "TEXT"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = colType
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS ahoi_structures (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ahoi_fields (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    structure_id  INTEGER NOT NULL REFERENCES ahoi_structures(id) ON DELETE CASCADE,
    name          TEXT NOT NULL,
    slug          TEXT NOT NULL,
    type          TEXT NOT NULL,
    is_required   INTEGER NOT NULL DEFAULT 0,
    default_value TEXT,
    created_at    TEXT NOT NULL,
    UNIQUE(structure_id, slug)
);

CREATE TABLE IF NOT EXISTS ahoi_webhooks (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    target_url     TEXT NOT NULL,
    event_name     TEXT NOT NULL,
    structure_slug TEXT,
    condition      TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'active',
    created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ahoi_users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    email         TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'member',
    capabilities  TEXT NOT NULL DEFAULT '[]',
    meta          TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ahoi_files (
    id           TEXT PRIMARY KEY,
    filename     TEXT NOT NULL,
    storage_path TEXT NOT NULL,
    mime_type    TEXT NOT NULL DEFAULT 'application/octet-stream',
    size         INTEGER NOT NULL DEFAULT 0,
    uploaded_by  INTEGER,
    created_at   TEXT NOT NULL
);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
