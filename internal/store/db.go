// Package store is the schema and data-access layer: SQLite opening,
// migrations, and the Email/Attachment/SyncState row types the rest of the
// Index subsystem operates on.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection configured for the index's access pattern:
// WAL so readers are never blocked behind a synchronizer write, a small
// pool of read connections, and foreign keys enforced.
type DB struct {
	*sql.DB
	path string
}

// Open creates the parent directory if needed, opens (or creates) the
// SQLite file at path, applies pragmas and schema, and returns a ready DB.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("mailindex: create db dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mailindex: open db: %w", err)
	}
	sqlDB.SetMaxOpenConns(8)

	db := &DB{DB: sqlDB, path: path}
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// Exists reports whether a database file is present at path without
// opening it; used by the Manager's has_index operation.
func Exists(path string) bool {
	if path == ":memory:" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (db *DB) init() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("mailindex: apply schema: %w", err)
	}

	var version string
	err := db.QueryRow(`SELECT value FROM schema_version WHERE key = 'version'`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Exec(`INSERT INTO schema_version(key, value) VALUES ('version', ?)`, currentSchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("mailindex: read schema version: %w", err)
	}

	if stmt := migrateFrom(version); stmt != "" {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("mailindex: migrate schema: %w", err)
		}
	}
	if version != currentSchemaVersion {
		_, err = db.Exec(`UPDATE schema_version SET value = ? WHERE key = 'version'`, currentSchemaVersion)
		return err
	}
	return nil
}

// Vacuum reclaims space after heavy deletes (capping, mailbox removal).
func (db *DB) Vacuum() error {
	_, err := db.Exec("VACUUM")
	return err
}

// Size returns the on-disk size of the database file in bytes.
func (db *DB) Size() (int64, error) {
	if db.path == ":memory:" {
		return 0, nil
	}
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SizeHuman returns Size in human-readable form ("42 MB") for logging and
// stats reporting.
func (db *DB) SizeHuman() (string, error) {
	size, err := db.Size()
	if err != nil {
		return "", err
	}
	return humanize.Bytes(uint64(size)), nil
}
