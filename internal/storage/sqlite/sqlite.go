// Package sqlite implements the context store's only storage backend: an
// embedded SQLite database file with write-ahead logging, accessed
// through database/sql with the pure-Go ncruces/go-sqlite3 driver. It
// follows the teacher's own storage layer conventions: one outer
// connection (MaxOpenConns(1)) serializing writers, prepared-statement
// reuse via database/sql's own cache, TEXT-column timestamps parsed
// manually because the driver only auto-converts DATETIME-declared
// columns, and wrapDBError-style error wrapping (here centralized in
// internal/errs).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
	"github.com/ctxkeeper/ctxkeeper/internal/storage"
	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite/migrate"
)

// DefaultMaxDatabaseBytes is the default ceiling enforced before each
// write transaction commits (spec.md §4.1's ResourceExhausted limit).
const DefaultMaxDatabaseBytes int64 = 4 << 30 // 4 GiB

// SQLiteStorage implements storage.Storage against a single embedded
// database file.
type SQLiteStorage struct {
	db              *sql.DB
	maxDatabaseSize int64
	migrations      *migrate.Manager

	spMu    sync.Mutex
	spDepth int

	subMu     sync.Mutex
	subs      map[int]chan storage.ChangeEvent
	nextSubID int

	fileWatcher  *fsnotify.Watcher
	externalMu   sync.Mutex
	lastExternal time.Time
}

// Options configures New.
type Options struct {
	MaxDatabaseBytes int64
}

// New opens (creating if necessary) a WAL-mode SQLite database at path
// and applies every pending migration.
func New(ctx context.Context, path string, opts Options) (*SQLiteStorage, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.WrapDB("open database", err)
	}
	// SQLite allows exactly one writer; serialize through a single
	// connection so transactions/savepoints behave predictably.
	db.SetMaxOpenConns(1)

	maxSize := opts.MaxDatabaseBytes
	if maxSize <= 0 {
		maxSize = DefaultMaxDatabaseBytes
	}

	s := &SQLiteStorage{
		db:              db,
		maxDatabaseSize: maxSize,
		subs:            make(map[int]chan storage.ChangeEvent),
	}

	// Bootstrap migrations_log before the manager can record anything.
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migrations_log (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		success INTEGER NOT NULL,
		execution_time_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		_ = db.Close()
		return nil, errs.WrapDB("bootstrap migrations_log", err)
	}

	s.migrations = migrate.New(db, registeredMigrations)
	if err := s.migrations.ApplyAll(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fatal: schema migration failed: %w", err)
	}

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(path); err == nil {
			// In WAL mode a commit is written to the -wal file; the main
			// file only changes when the log is checkpointed into it.
			_ = watcher.Add(path + "-wal")
			s.fileWatcher = watcher
			go s.watchFile()
		} else {
			_ = watcher.Close()
		}
	}

	return s, nil
}

// watchFile records the last time any process wrote to the database file.
// fsnotify can't attribute an event to a process, so this can't prove a
// write came from outside ctxkeeperd; it's a best-effort diagnostic for
// the common case worth flagging anyway: a file that changed more
// recently than this store's own last commit likely has a second writer
// (a backup script, the sqlite3 CLI, a second daemon instance pointed at
// the same path) on a file format that only tolerates one.
func (s *SQLiteStorage) watchFile() {
	for event := range s.fileWatcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		s.externalMu.Lock()
		s.lastExternal = time.Now()
		s.externalMu.Unlock()
	}
}

// Stat reports the last time the database file was observed to change on
// disk, whether or not that change originated from this process.
func (s *SQLiteStorage) Stat() (observed bool, lastWrite time.Time) {
	s.externalMu.Lock()
	defer s.externalMu.Unlock()
	return !s.lastExternal.IsZero(), s.lastExternal
}

// Migrations exposes the migration manager for the administrative
// migrate_status/migrate_apply tools (spec.md §6).
func (s *SQLiteStorage) Migrations() *migrate.Manager { return s.migrations }

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	if s.fileWatcher != nil {
		_ = s.fileWatcher.Close()
	}
	return errs.WrapDB("close database", s.db.Close())
}

// DatabaseSizeBytes reports the current on-disk size via SQLite's own
// page accounting, used to enforce the ResourceExhausted limit.
func (s *SQLiteStorage) DatabaseSizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, errs.WrapDB("read page_count", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, errs.WrapDB("read page_size", err)
	}
	return pageCount * pageSize, nil
}

// checkSizeLimit is called before a write transaction commits.
func (s *SQLiteStorage) checkSizeLimit(ctx context.Context) error {
	size, err := s.DatabaseSizeBytes(ctx)
	if err != nil {
		return err
	}
	if size > s.maxDatabaseSize {
		return errs.Ef(errs.ResourceExhausted, nil, "database size %s exceeds limit %s",
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(s.maxDatabaseSize)))
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success (after a
// size-limit check) and rolling back on any error, including one
// returned by the size check itself.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.beginTxWithRetry(ctx)
	if err != nil {
		return errs.WrapDB("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.checkSizeLimit(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.WrapDB("commit transaction", err)
	}
	return nil
}

// beginTxWithRetry opens a transaction, retrying with capped exponential
// backoff when SQLite reports its single-writer lock as busy (a second
// process or connection holding the write lock briefly). Any other
// failure to begin is returned immediately.
func (s *SQLiteStorage) beginTxWithRetry(ctx context.Context) (*sql.Tx, error) {
	var tx *sql.Tx
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.Retry(func() error {
		var beginErr error
		tx, beginErr = s.db.BeginTx(ctx, nil)
		if beginErr == nil {
			return nil
		}
		if isBusyErr(beginErr) {
			return beginErr
		}
		return backoff.Permanent(beginErr)
	}, policy)
	return tx, err
}

// isBusyErr reports whether err is SQLite's busy/locked signal for
// single-writer contention, the one condition worth retrying BeginTx for.
func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withSavepoint runs fn inside a SAVEPOINT nested within an
// already-open transaction, so callers composing multiple logical steps
// within one outer withTx can roll back just their own step.
func (s *SQLiteStorage) withSavepoint(ctx context.Context, tx *sql.Tx, fn func() error) error {
	s.spMu.Lock()
	s.spDepth++
	name := fmt.Sprintf("sp_%d", s.spDepth)
	s.spMu.Unlock()

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return errs.WrapDB("create savepoint", err)
	}
	if err := fn(); err != nil {
		_, _ = tx.ExecContext(ctx, "ROLLBACK TO "+name)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return errs.WrapDB("release savepoint", err)
	}
	return nil
}

// Subscribe registers a channel that receives every ChangeEvent published
// after registration, and returns an unsubscribe function. Used by the
// watcher subsystem (internal/watch) to learn about new writes without
// re-polling the database on every tick.
func (s *SQLiteStorage) Subscribe() (<-chan storage.ChangeEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan storage.ChangeEvent, 64)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// publish fans a change out to every live subscriber, dropping it for
// any subscriber whose buffer is full rather than blocking the writer.
// It is called from inside the writing transaction, before commit, so
// watchers use it only as a wake-up and read committed changes from
// ChangesSince.
func (s *SQLiteStorage) publish(ev storage.ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
