// Package sqlite provides the SQLite persistence layer for sessions, dose
// events and check-ins. It owns the database lifecycle: directory creation,
// pre-migration backups, connection pragmas and schema migrations.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dosetap/dosetap/internal/log"
	"github.com/dosetap/dosetap/internal/sessions/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the SQLite connection and owns its lifecycle.
type DB struct {
	path string
	conn *sql.DB
}

// NewDB opens (creating if necessary) the database at path and brings the
// schema up to date. The parent directory is created with 0700 permissions
// because the database holds medical data. When an existing database file is
// present, a .bak copy is taken before migrations run so a failed migration
// never destroys the only copy of the dose log.
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := backupFile(path, path+".bak"); err != nil {
			return nil, fmt.Errorf("failed to create pre-migration backup: %w", err)
		}
		log.Debug(log.CatDB, "Pre-migration backup created", "path", path+".bak")
	}

	// _pragma applies to every pooled connection; foreign_keys in
	// particular is per-connection state.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=foreign_keys(on)"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Debug(log.CatDB, "Database ready", "path", path)

	return &DB{path: path, conn: conn}, nil
}

// EventLog returns the domain.EventLog implementation backed by this
// database. The returned log shares the connection owned by DB.
func (d *DB) EventLog() domain.EventLog {
	return newEventLog(d.conn)
}

// Connection returns the underlying *sql.DB for callers that need raw
// access (tests, export).
func (d *DB) Connection() *sql.DB {
	return d.conn
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// runMigrations applies embedded migrations through golang-migrate using the
// in-process driver below, so the schema version lives next to the data.
func runMigrations(conn *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migration source: %w", err)
	}

	drv, err := newMigrationDriver(conn)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "dosetap", drv)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// backupFile copies src to dst, replacing dst if it exists.
func backupFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
