package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/gridcat/gridcat/internal/errors"
)

// schemaVersion is the current catalog schema version. A catalog written by
// a newer release refuses to open rather than risk silent corruption.
const schemaVersion = 1

// Store owns one catalog database. The writer handle is restricted to a
// single connection so per-file transactions serialize; the reader handle
// serves concurrent snapshot reads under WAL.
type Store struct {
	path   string
	writer *sql.DB
	reader *sql.DB
}

// Open opens (creating if necessary) the catalog at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := validateIntegrity(path); err != nil {
		return nil, errors.Corruption("catalog failed integrity validation", err).
			WithDetail("path", path)
	}

	writer, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	// Single writer connection to prevent lock contention.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	reader, err := openHandle(path)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}

	s := &Store{path: path, writer: writer, reader: reader}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// openHandle opens one database handle with the standard pragmas applied.
func openHandle(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params are not
	// honored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -16384",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return db, nil
}

// validateIntegrity checks an existing catalog before opening it for writes.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created.
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		root TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		created TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment_id INTEGER NOT NULL REFERENCES experiments(id),
		name TEXT NOT NULL,
		UNIQUE(experiment_id, name)
	);

	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment_id INTEGER NOT NULL REFERENCES experiments(id),
		run_id INTEGER REFERENCES runs(id),
		path TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL DEFAULT 0,
		mtime_ns INTEGER NOT NULL DEFAULT 0,
		fingerprint TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		parse_error TEXT NOT NULL DEFAULT '',
		retry_eligible INTEGER NOT NULL DEFAULT 0,
		indexed_at INTEGER NOT NULL DEFAULT 0,
		tombstoned_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
	CREATE INDEX IF NOT EXISTS idx_files_experiment ON files(experiment_id);

	CREATE TABLE IF NOT EXISTS variables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		long_name TEXT NOT NULL DEFAULT '',
		units TEXT NOT NULL DEFAULT '',
		UNIQUE(name, long_name, units)
	);

	CREATE TABLE IF NOT EXISTS file_variables (
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		variable_id INTEGER NOT NULL REFERENCES variables(id),
		dimensions TEXT NOT NULL DEFAULT '',
		shape TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (file_id, variable_id)
	);

	CREATE TABLE IF NOT EXISTS time_coverage (
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		variable_id INTEGER NOT NULL REFERENCES variables(id),
		time_start TEXT NOT NULL,
		time_end TEXT NOT NULL,
		frequency TEXT NOT NULL DEFAULT '',
		calendar TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (file_id, variable_id)
	);
	CREATE INDEX IF NOT EXISTS idx_coverage_variable ON time_coverage(variable_id);

	CREATE TABLE IF NOT EXISTS file_attrs (
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (file_id, name)
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment TEXT NOT NULL,
		run TEXT NOT NULL DEFAULT '',
		variable TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE(experiment, run, variable, detail)
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.writer.Exec(schema); err != nil {
		return errors.Corruption("failed to initialize catalog schema", err).
			WithDetail("path", s.path)
	}

	var version int
	err := s.writer.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return errors.Corruption("failed to read schema version", err)
	}
	switch {
	case version == 0:
		if _, err := s.writer.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return errors.Corruption("failed to record schema version", err)
		}
	case version > schemaVersion:
		return errors.New(errors.ErrCodeCatalogVersion,
			fmt.Sprintf("catalog schema version %d is newer than supported version %d", version, schemaVersion), nil).
			WithDetail("path", s.path)
	}

	return nil
}

// Path returns the catalog database path.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes both handles.
func (s *Store) Close() error {
	if _, err := s.writer.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Debug("wal checkpoint on close failed", slog.String("error", err.Error()))
	}
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
