// Package journal records scenario runs in SQLite for later inspection.
//
// The journal is append-only. Each scenario attempt is one row in runs,
// with its trace in child tables:
//   - tool_calls: every tool call the agent made, in order
//   - questions: interactive question batches and scripted answers
//   - assertion_results: one verdict per assertion and invariant
//   - file_events: filesystem activity observed during execution
//
// # Ordering
//
// runs.seq is a journal-wide counter assigned at write time; child rows
// carry their position within the run. Every read orders by seq, never by
// timestamp, so listings are stable across machines and clock skew.
//
// # JSON Columns
//
// Structured columns (tool input, answers, changes) are stored as RFC 8785
// canonical JSON so identical runs produce identical rows.
//
// # Database Configuration
//
//   - WAL mode for file-backed journals
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// An empty path opens a private in-memory journal that lives for the
// process.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added session_id to runs
const currentSchemaVersion = 2

// MemoryPath is the DSN used when no journal file is configured.
const MemoryPath = ":memory:"

// Journal provides durable storage for scenario runs.
//
// Thread-safety: safe for concurrent use; writes are serialized by the
// single connection.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal at path. An empty path opens an
// in-memory journal. Pragmas and migrations are applied on every open.
func Open(path string) (*Journal, error) {
	if path == "" {
		path = MemoryPath
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// One connection keeps an in-memory database alive and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds runs.session_id to journals created before it existed.
// New journals get the column from schema.sql.
func migrateToV1(db *sql.DB) error {
	if err := addRunColumn(db, "session_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 adds the agent's terminal status columns.
func migrateToV2(db *sql.DB) error {
	if err := addRunColumn(db, "agent_status", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if err := addRunColumn(db, "agent_success", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// addRunColumn adds a column to runs unless it already exists.
func addRunColumn(db *sql.DB, name, decl string) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = ?`, name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE runs ADD COLUMN %s %s", name, decl))
	return err
}
