package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirMode  = 0750
	fileMode = 0600

	pingTimeout = 5 * time.Second
	idleTimeout = 30 * time.Minute

	memoryPath = ":memory:"
)

// DB is the record store's SQLite handle.
//
// Every peer on a host opens the same file. Writes take the lock at BEGIN
// (_txlock=immediate) so a change-tag read and its update never interleave
// with another peer's write.
type DB struct {
	*sql.DB
	path string
}

// Config is the database section of the peerlink config.
type Config struct {
	// Path is the SQLite file; missing parent directories are created.
	Path string

	// WALMode lets readers on other peers proceed while one peer writes.
	WALMode bool

	// BusyTimeout is how long SQLite waits on a held lock, in seconds.
	BusyTimeout int
}

// dsn renders cfg as a go-sqlite3 connection string.
// See https://github.com/mattn/go-sqlite3#connection-string.
func dsn(path string, cfg Config) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	if cfg.BusyTimeout > 0 {
		q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*int(time.Second/time.Millisecond)))
	}
	if cfg.WALMode && path != memoryPath {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating if needed) the shared record store file.
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Handle with a verified connection
//   - error: If the directory, file or first ping fails
func Open(cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("opening database: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := open(dsn(cfg.Path, cfg), cfg.Path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // the driver may not have created the file yet
	return db, nil
}

// OpenInMemory opens a private in-memory database. It lives as long as the
// single pooled connection, which is until Close.
func OpenInMemory() (*DB, error) {
	return open(dsn(memoryPath, Config{}), memoryPath)
}

func open(connStr, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection per process: SQLite has a single writer, and an
	// in-memory database vanishes with its connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(idleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Close is safe on a nil or already-released handle.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the file path, or ":memory:".
func (db *DB) Path() string {
	return db.path
}

// JournalMode reports SQLite's active journal mode, e.g. "wal".
func (db *DB) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("reading journal mode: %w", err)
	}
	return strings.ToLower(mode), nil
}

// HealthCheck runs a trivial query against the store.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// ExecContext wraps the embedded ExecContext with a package error prefix.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return res, nil
}

// BeginTx starts a transaction. With _txlock=immediate the write lock is
// taken here, so a busy error surfaces from BeginTx rather than mid-update.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
