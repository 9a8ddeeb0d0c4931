package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// schemaVersion is bumped whenever columns are added below.
const schemaVersion = 2

// schema creates the tables on a fresh file. Columns introduced after the
// first layout are listed last in each table and also appear in backfills,
// so that files written by older releases end up with the same shape.
const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analyses (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   DATETIME DEFAULT CURRENT_TIMESTAMP,
	file_path   TEXT,
	tool        TEXT NOT NULL,
	full_output TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	run_id      TEXT,
	duration_ms INTEGER,
	snippet     TEXT
);

CREATE TABLE IF NOT EXISTS errors (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id   INTEGER NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
	error_code    TEXT,
	message       TEXT NOT NULL,
	file          TEXT,
	line          INTEGER CHECK (line IS NULL OR typeof(line) = 'integer'),
	suggestion    TEXT,
	column_number INTEGER CHECK (column_number IS NULL OR typeof(column_number) = 'integer'),
	created_at    DATETIME
);

CREATE TABLE IF NOT EXISTS todos (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
	source       TEXT NOT NULL,
	description  TEXT NOT NULL,
	file_path    TEXT,
	line_number  INTEGER CHECK (line_number IS NULL OR typeof(line_number) = 'integer'),
	completed    BOOLEAN DEFAULT 0,
	analysis_id  INTEGER REFERENCES analyses(id) ON DELETE CASCADE,
	category     TEXT,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS fixes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	error_id      INTEGER REFERENCES errors(id) ON DELETE SET NULL,
	fix_applied   TEXT NOT NULL,
	timestamp     DATETIME DEFAULT CURRENT_TIMESTAMP,
	worked        BOOLEAN,
	analysis_id   INTEGER REFERENCES analyses(id) ON DELETE CASCADE,
	todo_id       INTEGER REFERENCES todos(id) ON DELETE SET NULL,
	lines_added   INTEGER,
	lines_deleted INTEGER
);
`

// indexes may reference backfilled columns, so they run last.
const indexes = `
CREATE INDEX IF NOT EXISTS idx_analyses_run_id ON analyses(run_id);
CREATE INDEX IF NOT EXISTS idx_errors_analysis_id ON errors(analysis_id);
CREATE INDEX IF NOT EXISTS idx_errors_code ON errors(error_code);
CREATE INDEX IF NOT EXISTS idx_todos_analysis_id ON todos(analysis_id);
CREATE INDEX IF NOT EXISTS idx_todos_completed ON todos(completed);
CREATE INDEX IF NOT EXISTS idx_fixes_analysis_id ON fixes(analysis_id);
`

// backfills add the columns missing from files created by older releases.
// Backfilled columns carry no CHECK constraint; on legacy files the typed
// binding in this package is the only guard.
var backfills = []struct {
	table, column, ddl string
}{
	{"analyses", "run_id", "TEXT"},
	{"analyses", "duration_ms", "INTEGER"},
	{"analyses", "snippet", "TEXT"},
	{"errors", "column_number", "INTEGER"},
	{"errors", "created_at", "DATETIME"},
	{"todos", "analysis_id", "INTEGER REFERENCES analyses(id) ON DELETE CASCADE"},
	{"todos", "category", "TEXT"},
	{"todos", "completed_at", "DATETIME"},
	{"fixes", "analysis_id", "INTEGER REFERENCES analyses(id) ON DELETE CASCADE"},
	{"fixes", "todo_id", "INTEGER REFERENCES todos(id) ON DELETE SET NULL"},
	{"fixes", "lines_added", "INTEGER"},
	{"fixes", "lines_deleted", "INTEGER"},
}

// migrate creates missing tables, adds missing columns and records the
// schema version. It is safe to run on every open.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	for _, b := range backfills {
		ok, err := hasColumn(ctx, tx, b.table, b.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		// Identifiers come from the static table above, never from input.
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", b.table, b.column, b.ddl)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add %s.%s: %w", b.table, b.column, err)
		}
	}

	if _, err := tx.ExecContext(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(schemaVersion),
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
