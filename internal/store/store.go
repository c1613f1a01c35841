// Package store implements the local persistence core of the fimd agent:
// a two-table SQLite snapshot of monitored files with mark-and-sweep scan
// support, batched transactions, and range checksums for incremental
// reconciliation against a remote authority.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database, used by tests.
const MemoryPath = ":memory:"

// DefaultCommitInterval bounds how much uncommitted work a crash can lose.
const DefaultCommitInterval = time.Second

var (
	// ErrNotFound reports that a lookup matched no entry. It is a normal
	// outcome, not a storage failure.
	ErrNotFound = errors.New("entry not found")

	// ErrStopIteration may be returned by a visit callback to end a range
	// iteration early without error.
	ErrStopIteration = errors.New("stop iteration")

	// ErrClosed reports an operation on a closed store handle.
	ErrClosed = errors.New("store is closed")
)

const schema = `
CREATE TABLE IF NOT EXISTS entry_data (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	dev         INTEGER NOT NULL,
	inode       INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	mode        INTEGER NOT NULL,
	uid         INTEGER NOT NULL,
	gid         INTEGER NOT NULL,
	user_name   TEXT NOT NULL DEFAULT '',
	group_name  TEXT NOT NULL DEFAULT '',
	hash_blake3 TEXT NOT NULL,
	hash_sha256 TEXT NOT NULL DEFAULT '',
	mtime       INTEGER NOT NULL,
	fingerprint INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entry_data_identity ON entry_data(inode, dev);

CREATE TABLE IF NOT EXISTS entry_path (
	path       TEXT PRIMARY KEY,
	data_id    INTEGER NOT NULL,
	scanned    INTEGER NOT NULL DEFAULT 1,
	last_event INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entry_path_data ON entry_path(data_id);
CREATE INDEX IF NOT EXISTS idx_entry_path_scanned ON entry_path(scanned);
`

// Store is the single handle to the entry database. It owns both tables,
// the prepared statement cache, and the batching transaction.
//
// All work runs on one pinned connection so every statement participates in
// the open batch transaction, the same way the agent would drive a raw
// sqlite3 handle. The internal mutex serializes calls; the higher-level
// scan/sweep discipline belongs to the caller.
type Store struct {
	mu sync.Mutex

	db     *sql.DB
	conn   *sql.Conn
	path   string
	memory bool

	inTx       bool
	lastCommit time.Time
	interval   time.Duration

	stmts  [opCount]*sql.Stmt
	broken error // set when statement preparation fails; fatal for the handle
	closed bool
}

// Option configures a Store at open time.
type Option func(*Store)

// WithCommitInterval overrides the batching interval. Zero commits on every
// CheckTransaction call.
func WithCommitInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// Open creates or reuses the entry database at path and applies the schema.
// Pass MemoryPath for a private in-memory instance.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:     path,
		memory:   path == MemoryPath,
		interval: DefaultCommitInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	dsn := s.path
	if !s.memory {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open entry db: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(context.Background())
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("pin connection: %w", err)
	}

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"}
	if s.memory {
		pragmas = nil
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(context.Background(), pragma); err != nil {
			_ = conn.Close()
			_ = db.Close()
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := conn.ExecContext(context.Background(), schema); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return fmt.Errorf("initialize schema: %w", err)
	}

	s.db = db
	s.conn = conn
	s.broken = nil
	s.closed = false

	if err := s.begin(); err != nil {
		_ = conn.Close()
		_ = db.Close()
		s.db, s.conn = nil, nil
		return err
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Clean destroys the database and recreates it empty.
func (s *Store) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.teardown(); err != nil {
		return err
	}
	if !s.memory {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", s.path+suffix, err)
			}
		}
	}
	return s.open()
}

// Close force-commits pending writes, checkpoints the WAL, and releases the
// handle. The store cannot be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.teardown()
	s.closed = true
	return err
}

// teardown commits and closes everything. Callers must hold s.mu.
func (s *Store) teardown() error {
	if s.db == nil {
		return nil
	}
	if s.inTx {
		_, _ = s.conn.ExecContext(context.Background(), "COMMIT")
		s.inTx = false
	}
	s.closeStmts()
	if !s.memory {
		_, _ = s.conn.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	}
	_ = s.conn.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close entry db: %w", err)
	}
	s.db, s.conn = nil, nil
	return nil
}

// CheckTransaction commits the batching transaction if the configured
// interval has elapsed since the last commit. Call it after mutating
// operations, outside any caller-held critical section.
func (s *Store) CheckTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if time.Since(s.lastCommit) < s.interval {
		return nil
	}
	return s.commit()
}

// ForceCommit unconditionally commits pending writes. Used at checkpoints
// such as the end of a scan cycle, where durability must be guaranteed
// before proceeding.
func (s *Store) ForceCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.commit()
}

func (s *Store) begin() error {
	if _, err := s.conn.ExecContext(context.Background(), "BEGIN"); err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	s.inTx = true
	s.lastCommit = time.Now()
	return nil
}

// commit ends the current batch and opens the next one. Callers must hold
// s.mu.
func (s *Store) commit() error {
	if _, err := s.conn.ExecContext(context.Background(), "COMMIT"); err != nil {
		_, _ = s.conn.ExecContext(context.Background(), "ROLLBACK")
		s.inTx = false
		if beginErr := s.begin(); beginErr != nil {
			s.broken = beginErr
		}
		return fmt.Errorf("commit batch: %w", err)
	}
	s.inTx = false
	return s.begin()
}
