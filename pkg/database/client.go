// Package database provides the SQLite clients and migration utilities
// backing the operator's persistent state. Each store (tickets, actions,
// eval) lives in its own database file with its own migration set; the
// intended deployment is one writer per file.
package database

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // register the CGO-free sqlite driver
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationSet names one embedded migration directory, and therefore one
// database file schema.
type MigrationSet string

// Available migration sets.
const (
	MigrationsTickets MigrationSet = "tickets"
	MigrationsActions MigrationSet = "actions"
	MigrationsEval    MigrationSet = "eval"
)

// Client wraps an sqlx database handle for one SQLite file.
type Client struct {
	*sqlx.DB
	path string
}

// Path returns the database file path (":memory:" for in-memory databases).
func (c *Client) Path() string {
	return c.path
}

// Open opens (creating if needed) the SQLite database at path and applies
// all pending migrations from the given set.
//
// Migration workflow:
//  1. Developer changes schema: add pkg/database/migrations/<set>/NNNN_*.sql
//  2. Files embedded into the binary at compile time
//  3. App applies pending migrations on open (this function)
func Open(ctx context.Context, path string, set MigrationSet) (*Client, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer per file; serialize access through one connection so
	// concurrent goroutines within the process never hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// WAL survives crashes mid-write and lets readers proceed during writes.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db, set); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run %s migrations: %w", set, err)
	}

	return &Client{DB: db, path: path}, nil
}

// runMigrations applies all pending migrations for the set using
// golang-migrate with the embedded migration files.
func runMigrations(db *sqlx.DB, set MigrationSet) error {
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+string(set))
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(set), driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB out from under the caller.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}

	return nil
}
