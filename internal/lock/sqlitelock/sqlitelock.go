// Package sqlitelock implements lock.Locker over a local SQLite database,
// giving distributed singleflight across processes on a single host
// without requiring a Redis deployment. The writer/reader connection split
// (single-conn writer serializing mutations, pooled read-only reader) is
// adapted from the teacher's internal/store.Store.
package sqlitelock

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/allaspectsdev/memocache/internal/cacheerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS locks (
	key        TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

const pollInterval = 25 * time.Millisecond

// Locker is a lock.Locker backed by a SQLite database file.
type Locker struct {
	writer    *sql.DB
	reader    *sql.DB
	closeOnce sync.Once
}

// Open opens (creating if necessary) the lock database at path.
func Open(path string) (*Locker, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sqlitelock: create directory %s: %w", dir, err)
	}

	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitelock: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlitelock: ping writer: %w", err)
	}

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlitelock: create schema: %w", err)
	}

	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlitelock: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	reader.SetConnMaxLifetime(0)

	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("sqlitelock: ping reader: %w", err)
	}

	return &Locker{writer: writer, reader: reader}, nil
}

// Close closes both connections. Safe to call multiple times.
func (l *Locker) Close() error {
	var firstErr error
	l.closeOnce.Do(func() {
		if err := l.writer.Close(); err != nil {
			firstErr = err
		}
		if err := l.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl, waitTimeout time.Duration) error {
	deadline := time.Now().Add(waitTimeout)

	for {
		ok, err := l.tryAcquire(ctx, key, owner, ttl)
		if err != nil {
			return fmt.Errorf("%w: %v", cacheerr.ErrLockUnavailable, err)
		}
		if ok {
			return nil
		}

		if waitTimeout <= 0 || time.Now().After(deadline) {
			return fmt.Errorf("%w: lock %q held by another owner", cacheerr.ErrLockTimeout, key)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", cacheerr.ErrLockTimeout, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquire performs one atomic attempt: delete the row if expired, then
// insert it if absent, inside a single transaction on the writer
// connection (the only writer, so no other goroutine in this process can
// race it; cross-process races are resolved by the PRIMARY KEY conflict).
func (l *Locker) tryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	tx, err := l.writer.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE key = ? AND expires_at < ?`, key, now); err != nil {
		return false, err
	}

	expiresAt := time.Now().Add(ttl).Unix()
	_, err = tx.ExecContext(ctx, `INSERT INTO locks (key, owner, expires_at) VALUES (?, ?, ?)`, key, owner, expiresAt)
	if err != nil {
		// Primary key conflict means someone else holds a live lock.
		return false, tx.Commit()
	}

	return true, tx.Commit()
}

// Release implements lock.Locker.
func (l *Locker) Release(ctx context.Context, key, owner string) error {
	_, err := l.writer.ExecContext(ctx, `DELETE FROM locks WHERE key = ? AND owner = ?`, key, owner)
	if err != nil {
		return fmt.Errorf("%w: %v", cacheerr.ErrLockUnavailable, err)
	}
	return nil
}
