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
func (d *PostgresDialect) NowExpr() string    { return "NOW()" }
func (d *PostgresDialect) NeedsBoolFix() bool { return false }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &paramBuilder{format: "$%d"}
}

func (d *PostgresDialect) SchemaSQL() string { return postgresSchemaSQL }

func (d *PostgresDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) OlderThanExpr(col string, pb ParamBuilder, days int) string {
	return fmt.Sprintf("%s < NOW() - make_interval(days => %s)", col, pb.Add(days))
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// pgx/stdlib errors carry the SQLSTATE in their message
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS field_configs (
    key           TEXT PRIMARY KEY,
    position      INT NOT NULL,
    label         TEXT NOT NULL DEFAULT '',
    default_value JSONB NOT NULL DEFAULT '""',
    value_type    TEXT NOT NULL DEFAULT 'scalar',
    display       BOOLEAN NOT NULL DEFAULT false,
    mandatory     BOOLEAN NOT NULL DEFAULT false,
    section       TEXT NOT NULL DEFAULT '',
    data_type     TEXT NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_field_configs_position ON field_configs(position);

CREATE TABLE IF NOT EXISTS _config_events (
    id          UUID PRIMARY KEY,
    action      TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    field_count INT NOT NULL DEFAULT 0,
    added       INT NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'ok',
    metadata    JSONB,
    created_at  TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_config_events_created ON _config_events(created_at);
`
