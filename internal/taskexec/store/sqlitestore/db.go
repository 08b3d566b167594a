// Package sqlitestore is the authoritative model store the diff applier
// commits against: a SQLite-backed implementation of store.ModelStore with
// a version column for optimistic concurrency.
package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"taskexec/internal/log"
	"taskexec/internal/taskexec/store"
)

// DB owns the SQLite connection backing a model store. A single DB is
// opened once by the daemon and handed to store.Applier for the lifetime
// of the process.
type DB struct {
	conn *sql.DB
	path string
}

// NewDB opens (creating if necessary) the database at dbPath, sets the
// pragmas the applier's transactional writes depend on, and runs pending
// migrations. If a database file already exists at dbPath, it is copied to
// dbPath+".bak" before migrations run. Safe to call repeatedly against the
// same path.
func NewDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sqlitestore: creating directory %s: %w", dir, err)
	}

	if info, err := os.Stat(dbPath); err == nil && !info.IsDir() {
		backupPath := dbPath + ".bak"
		if err := copyFile(dbPath, backupPath); err != nil {
			return nil, fmt.Errorf("sqlitestore: backing up existing database: %w", err)
		}
		log.Debug(log.CatApplier, "backed up database before migrating", "path", dbPath, "backup", backupPath)
	}

	conn, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", dbPath, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlitestore: setting %q: %w", pragma, err)
		}
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlitestore: running migrations: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

func runMigrations(conn *sql.DB) error {
	driver, err := migratesqlite3.WithInstance(conn, &migratesqlite3.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(store.Migrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is the caller-controlled db path
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Connection returns the underlying *sql.DB for callers that need raw
// access (migrations, diagnostics).
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// ModelStore returns a store.ModelStore backed by this connection.
func (db *DB) ModelStore() store.ModelStore {
	return &SQLiteStore{conn: db.conn}
}
