package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"samplib/internal/config"
)

// DB wraps the shared library database connection. The catalog, ledger, and
// record stores all operate on this handle.
type DB struct {
	conn *sql.DB
	path string
}

// ErrUnavailable wraps failures that indicate the library database itself is
// unusable. Callers treat these as fatal rather than per-job errors.
var ErrUnavailable = errors.New("library database unavailable")

// Open initializes or connects to the library database and applies the schema.
func Open(cfg *config.Config) (*DB, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens a library database at an explicit location.
func OpenPath(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrUnavailable, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := conn.Exec(pragma); execErr != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: apply pragma %q: %v", ErrUnavailable, pragma, execErr)
		}
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// Conn exposes the raw connection for store implementations.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Path returns the on-disk database location.
func (d *DB) Path() string {
	return d.path
}

// Health reports basic diagnostics about the database file.
type Health struct {
	Path           string
	Exists         bool
	Readable       bool
	IntegrityCheck bool
	Error          string
}

// CheckHealth pings the database and runs an integrity check.
func (d *DB) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Path: d.path}

	info, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", d.path)
	}
	health.Exists = true

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.conn.PingContext(pingCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	health.Readable = true

	var result string
	if err := d.conn.QueryRowContext(pingCtx, "PRAGMA integrity_check").Scan(&result); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = result == "ok"
	return health, nil
}
