package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }
func (d *SQLiteDialect) NowExpr() string    { return "datetime('now')" }
func (d *SQLiteDialect) NeedsBoolFix() bool { return true }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &paramBuilder{format: "?%d"}
}

func (d *SQLiteDialect) SchemaSQL() string { return sqliteSchemaSQL }

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) OlderThanExpr(col string, pb ParamBuilder, days int) string {
	return fmt.Sprintf("%s < datetime('now', '-' || %s || ' days')", col, pb.Add(days))
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

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS field_configs (
    key           TEXT PRIMARY KEY,
    position      INTEGER NOT NULL,
    label         TEXT NOT NULL DEFAULT '',
    default_value TEXT NOT NULL DEFAULT '""',
    value_type    TEXT NOT NULL DEFAULT 'scalar',
    display       INTEGER NOT NULL DEFAULT 0,
    mandatory     INTEGER NOT NULL DEFAULT 0,
    section       TEXT NOT NULL DEFAULT '',
    data_type     TEXT NOT NULL DEFAULT '',
    updated_at    TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_field_configs_position ON field_configs(position);

CREATE TABLE IF NOT EXISTS _config_events (
    id          TEXT PRIMARY KEY,
    action      TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    field_count INTEGER NOT NULL DEFAULT 0,
    added       INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'ok',
    metadata    TEXT,
    created_at  TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_config_events_created ON _config_events(created_at);
`
