package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) SerialPrimaryKey() string  { return "BIGSERIAL PRIMARY KEY" }
func (d *PostgresDialect) ReturningIDClause() string { return " RETURNING id" }
func (d *PostgresDialect) NeedsBoolFix() bool        { return false }

func (d *PostgresDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "TEXT_SHORT":
		return "VARCHAR(255)"
	case "TEXT_LONG":
		return "TEXT"
	case "NUMBER_INT":
		return "BIGINT"
	case "NUMBER_DECIMAL":
		return "NUMERIC(10,2)"
	case "BOOLEAN":
		return "BOOLEAN"
	case "DATETIME":
		return "TIMESTAMP"
	case "DATE":
		return "DATE"
	case "RELATIONSHIP":
		return "BIGINT"
	case "JSON":
		return "JSONB"
	default:
		return "VARCHAR(255)"
	}
}

func (d *PostgresDialect) SystemTablesSQL() string {
	return pgSystemTablesSQL
}

func (d *PostgresDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = 'public'`,
		tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- PostgreSQL DDL ---

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS ahoi_structures (
    id          BIGSERIAL PRIMARY KEY,
    name        VARCHAR(255) NOT NULL,
    slug        VARCHAR(255) NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ahoi_fields (
    id            BIGSERIAL PRIMARY KEY,
    structure_id  BIGINT NOT NULL REFERENCES ahoi_structures(id) ON DELETE CASCADE,
    name          VARCHAR(255) NOT NULL,
    slug          VARCHAR(255) NOT NULL,
    type          VARCHAR(64) NOT NULL,
    is_required   BOOLEAN NOT NULL DEFAULT false,
    default_value TEXT,
    created_at    TIMESTAMP NOT NULL,
    UNIQUE(structure_id, slug)
);

CREATE TABLE IF NOT EXISTS ahoi_webhooks (
    id             BIGSERIAL PRIMARY KEY,
    target_url     TEXT NOT NULL,
    event_name     VARCHAR(255) NOT NULL,
    structure_slug VARCHAR(255),
    condition      TEXT NOT NULL DEFAULT '',
    status         VARCHAR(32) NOT NULL DEFAULT 'active',
    created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ahoi_users (
    id            BIGSERIAL PRIMARY KEY,
    username      VARCHAR(255) NOT NULL UNIQUE,
    email         VARCHAR(255) NOT NULL UNIQUE,
    display_name  VARCHAR(255) NOT NULL DEFAULT '',
    password_hash VARCHAR(255) NOT NULL,
    role          VARCHAR(64) NOT NULL DEFAULT 'member',
    capabilities  TEXT NOT NULL DEFAULT '[]',
    meta          TEXT NOT NULL DEFAULT '{}',
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ahoi_files (
    id           VARCHAR(36) PRIMARY KEY,
    filename     VARCHAR(255) NOT NULL,
    storage_path TEXT NOT NULL,
    mime_type    VARCHAR(255) NOT NULL DEFAULT 'application/octet-stream',
    size         BIGINT NOT NULL DEFAULT 0,
    uploaded_by  BIGINT,
    created_at   TIMESTAMP NOT NULL
);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
