// Package database provides the SQLite connection, schema, and transaction
// helpers shared by every repository: profile-based PRAGMA tuning for
// portfolio.db, a WithTransaction helper, and a savepoint counter (see
// savepoint.go) because database/sql.Tx has no native nested transaction
// support.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

//go:embed schema.sql
var schemaSQL string

// InitSchema applies schema.sql. Every statement is CREATE TABLE IF NOT
// EXISTS, so this is safe to call on every startup against an existing
// database; it never migrates an already-created table.
func (db *DB) InitSchema() error {
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Profile selects PRAGMA tuning for the database's access pattern.
type Profile string

const (
	// ProfileLedger maximizes durability for the immutable audit trail
	// (account snapshots, activities, lots, disposals): fsync on every
	// commit, never auto-vacuum.
	ProfileLedger Profile = "ledger"
	// ProfileStandard balances safety and throughput for the daily
	// valuation table, which is rewritten often during backfill.
	ProfileStandard Profile = "standard"
)

// DB wraps a *sql.DB with the PRAGMAs and pool settings a long-running
// single-writer service needs.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
}

// Config configures a New() call.
type Config struct {
	Path    string
	Profile Profile
}

// New opens (creating if needed) the SQLite database at cfg.Path.
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

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	configureConnectionPool(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile}, nil
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
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
	connStr += "&_pragma=busy_timeout(10000)"
	return connStr
}

func configureConnectionPool(conn *sql.DB) {
	// A single-writer SQLite database does not benefit from a large pool;
	// one writer plus a few readers for the HTTP read surface is enough.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn returns the underlying *sql.DB for repositories to build queries against.
func (db *DB) Conn() *sql.DB { return db.conn }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Begin starts a new top-level transaction.
func (db *DB) Begin() (*sql.Tx, error) { return db.conn.Begin() }

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic. Panics are converted to errors, never
// re-raised: a misbehaving provider adapter must not take the process down
// mid-sync.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// HealthCheck runs PRAGMA integrity_check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// WALCheckpoint forces a WAL checkpoint, truncating the WAL file.
func (db *DB) WALCheckpoint() error {
	_, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Stats reports on-disk size for monitoring.
type Stats struct {
	SizeBytes    int64
	WALSizeBytes int64
}

// GetStats reads file sizes for the database and its WAL file.
func (db *DB) GetStats() Stats {
	var stats Stats
	if fi, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = fi.Size()
	}
	if fi, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = fi.Size()
	}
	return stats
}
