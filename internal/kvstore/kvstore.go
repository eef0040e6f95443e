// Package kvstore provides the durable key -> (value, contributors) store behind
// an index. It is a single SQLite database (plus its -wal and -shm siblings)
// opened through the pure Go modernc.org/sqlite driver.
//
// Every key carries the latest value written for it and the set of source item
// ids that contributed it, so the store can answer "which keys did source X
// produce" and drop a source's contributions later.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	cierrors "github.com/Aman-CERP/classidx/internal/errors"
)

const (
	// BaseName is the common prefix of every file the store owns in its directory.
	BaseName = "classes"

	// DBFile is the main database file name.
	DBFile = BaseName + ".db"

	schemaVersion = 1
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Options tunes the SQLite connection.
type Options struct {
	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration
	// CacheSizeMB is the SQLite page cache size.
	CacheSizeMB int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		BusyTimeout: 5 * time.Second,
		CacheSizeMB: 16,
	}
}

// Pair is one key/value to write.
type Pair struct {
	Key   []byte
	Value []byte
}

// Record is the stored state of one key.
type Record struct {
	Value        []byte
	Contributors []string
}

// Store is an open key -> (value, contributors) database.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Path returns the database path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, DBFile)
}

// Exists reports whether dir already holds a database file.
func Exists(dir string) bool {
	info, err := os.Stat(Path(dir))
	return err == nil && !info.IsDir()
}

// Open opens or creates the store in dir. An existing database that fails the
// integrity check or lacks the expected schema yields an ERR_206_FILE_CORRUPT
// error; callers decide whether to remove the files and try again.
func Open(dir string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultOptions().BusyTimeout
	}
	if opts.CacheSizeMB <= 0 {
		opts.CacheSizeMB = DefaultOptions().CacheSizeMB
	}

	path := Path(dir)
	existed := Exists(dir)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// Single writer to prevent lock contention; keep the one connection alive
	// so per-connection pragmas stick.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}

	if existed {
		if err := s.validate(); err != nil {
			_ = db.Close()
			return nil, cierrors.New(cierrors.ErrCodeFileCorrupt,
				fmt.Sprintf("store %s is corrupt", path), err)
		}
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = %d", -opts.CacheSizeMB*1024), // negative = KB
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q on %s: %w", pragma, path, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema in %s: %w", path, err)
	}

	return s, nil
}

// validate checks an existing database before it is used.
func (s *Store) validate() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name IN ('entries', 'contributors')`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count != 2 {
		return fmt.Errorf("tables 'entries' and 'contributors' missing")
	}

	var version int
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("cannot read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("schema version %d, want %d", version, schemaVersion)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Latest value per key.
	CREATE TABLE IF NOT EXISTS entries (
		key   BLOB PRIMARY KEY,
		value BLOB NOT NULL
	) WITHOUT ROWID;

	-- Source items that emitted each key.
	CREATE TABLE IF NOT EXISTS contributors (
		key    BLOB NOT NULL,
		source TEXT NOT NULL,
		PRIMARY KEY (key, source)
	) WITHOUT ROWID;

	CREATE INDEX IF NOT EXISTS contributors_by_source ON contributors(source);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion)
	return err
}

// Put writes a single pair on behalf of source.
func (s *Store) Put(ctx context.Context, key, value []byte, source string) error {
	return s.PutBatch(ctx, source, []Pair{{Key: key, Value: value}})
}

// PutBatch writes all pairs on behalf of source in one transaction: either
// every pair lands or none does. Each key's value is overwritten and source is
// added to its contributor set.
func (s *Store) PutBatch(ctx context.Context, source string, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return putPairs(ctx, tx, source, pairs)
	})
}

// ReplaceSource makes pairs the complete contribution of source in one
// transaction. Keys source contributed before but not in pairs lose it as a
// contributor, and are deleted when no other source contributed them. It
// returns the deleted keys.
func (s *Store) ReplaceSource(ctx context.Context, source string, pairs []Pair) ([][]byte, error) {
	var dropped [][]byte
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		previous, err := keysBySource(ctx, tx, source)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contributors WHERE source = ?`, source); err != nil {
			return fmt.Errorf("failed to remove contributions of %s: %w", source, err)
		}
		if err := putPairs(ctx, tx, source, pairs); err != nil {
			return err
		}
		dropped, err = dropOrphans(ctx, tx, previous)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dropped, nil
}

// Clear deletes every key and contributor.
func (s *Store) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contributors`); err != nil {
			return fmt.Errorf("failed to clear contributors: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
			return fmt.Errorf("failed to clear entries: %w", err)
		}
		return nil
	})
}

// inTx runs fn in a write transaction, committing only if fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func putPairs(ctx context.Context, tx *sql.Tx, source string, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	entryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry statement: %w", err)
	}
	defer entryStmt.Close()

	contribStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO contributors(key, source) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare contributor statement: %w", err)
	}
	defer contribStmt.Close()

	for _, p := range pairs {
		if _, err := entryStmt.ExecContext(ctx, p.Key, p.Value); err != nil {
			return fmt.Errorf("failed to write key %q: %w", p.Key, err)
		}
		if _, err := contribStmt.ExecContext(ctx, p.Key, source); err != nil {
			return fmt.Errorf("failed to record contributor %s for key %q: %w", source, p.Key, err)
		}
	}
	return nil
}

// dropOrphans deletes those of keys that no longer have a contributor and
// returns them.
func dropOrphans(ctx context.Context, tx *sql.Tx, keys [][]byte) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM entries WHERE key = ?
		 AND NOT EXISTS (SELECT 1 FROM contributors WHERE key = ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare orphan statement: %w", err)
	}
	defer stmt.Close()

	var dropped [][]byte
	for _, k := range keys {
		res, err := stmt.ExecContext(ctx, k, k)
		if err != nil {
			return nil, fmt.Errorf("failed to drop orphaned key %q: %w", k, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			dropped = append(dropped, k)
		}
	}
	return dropped, nil
}

// Get returns the stored record for key.
func (s *Store) Get(ctx context.Context, key []byte) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, false, ErrClosed
	}

	var rec Record
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&rec.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source FROM contributors WHERE key = ? ORDER BY source`, key)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read contributors of %q: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return Record{}, false, fmt.Errorf("failed to scan contributor: %w", err)
		}
		rec.Contributors = append(rec.Contributors, src)
	}
	if err := rows.Err(); err != nil {
		return Record{}, false, err
	}

	return rec, true, nil
}

// KeysBySource returns the keys source contributed, in key order.
func (s *Store) KeysBySource(ctx context.Context, source string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return keysBySource(ctx, s.db, source)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func keysBySource(ctx context.Context, q querier, source string) ([][]byte, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT key FROM contributors WHERE source = ? ORDER BY key`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys of %s: %w", source, err)
	}
	defer rows.Close()

	var keys [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RemoveSource drops source from every contributor set and deletes keys no
// other source contributed. It returns the keys that were deleted.
func (s *Store) RemoveSource(ctx context.Context, source string) ([][]byte, error) {
	var dropped [][]byte
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		keys, err := keysBySource(ctx, tx, source)
		if err != nil || len(keys) == 0 {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contributors WHERE source = ?`, source); err != nil {
			return fmt.Errorf("failed to remove contributions of %s: %w", source, err)
		}
		dropped, err = dropOrphans(ctx, tx, keys)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dropped, nil
}

// Count returns the number of keys.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM entries`)
}

// SourceCount returns the number of distinct contributing sources.
func (s *Store) SourceCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(DISTINCT source) FROM contributors`)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL into the main file and closes the database.
// Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, ckErr := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if ckErr != nil {
		ckErr = fmt.Errorf("failed to checkpoint %s: %w", s.path, ckErr)
	}
	return errors.Join(ckErr, s.db.Close())
}

// RemoveFiles deletes every file in dir whose name starts with base
// (the database, its -wal and -shm files, and any journal). It returns the
// removed names. Missing files are not an error.
func RemoveFiles(dir, base string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
