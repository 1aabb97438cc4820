// Package store provides the embedded persistence layer for the five
// logical tables named in spec.md §6: task_definitions, task_instances,
// risk_state_history, allocation_history, action_outcomes. The core only
// ever depends on the logical operations — append, point-lookup, range
// by time, and snapshot-consistent read — so any implementation of Store
// is substitutable; DB is the production SQLite-backed one.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Profile selects PRAGMA tuning appropriate to a database's durability
// vs. throughput tradeoff, mirroring the profile-based tuning this
// codebase uses for its other embedded databases. A profile applies to a
// whole database file; farmd keeps all five tables in one file opened
// with ProfileStandard.
type Profile string

const (
	// ProfileLedger maximizes durability for append-only audit data:
	// fsync on every write, never auto-vacuum.
	ProfileLedger Profile = "ledger"
	// ProfileStandard balances durability and throughput.
	ProfileStandard Profile = "standard"
)

// Config configures a single embedded database file.
type Config struct {
	Path    string
	Profile Profile
	Name    string
}

// DB wraps a *sql.DB with the connection-pool tuning and profile-specific
// PRAGMAs this codebase applies to every embedded SQLite database it
// opens, adapted from the multi-database layout to this project's five
// tables living in one file.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// New opens (creating if necessary) the embedded database at cfg.Path
// with WAL mode and profile-tuned PRAGMAs.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		cfg.Path = absPath
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Name, err)
	}
	configurePool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

func connectionString(path string, profile Profile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	connStr := path + sep + "_pragma=journal_mode(WAL)"
	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)"
	return connStr
}

func configurePool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn returns the underlying *sql.DB for callers that need raw access.
func (db *DB) Conn() *sql.DB { return db.conn }

// Migrate applies the embedded schema. Safe to call repeatedly.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(schemaSQL)
	return err
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back (including on panic, which is re-raised after rollback)
// on error.
func WithTransaction(conn *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// HealthCheck verifies the connection and the integrity of the database
// file via SQLite's quick_check pragma.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check reported: %s", result)
	}
	return nil
}
