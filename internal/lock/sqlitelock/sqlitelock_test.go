package sqlitelock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/allaspectsdev/memocache/internal/cacheerr"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locks.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAcquireRelease(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	if err := l.Acquire(ctx, "k1", "owner-a", time.Minute, time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(ctx, "k1", "owner-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Acquire(ctx, "k1", "owner-b", time.Minute, time.Second); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestAcquire_ConflictTimesOut(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	if err := l.Acquire(ctx, "k1", "owner-a", time.Minute, time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	err := l.Acquire(ctx, "k1", "owner-b", time.Minute, 50*time.Millisecond)
	if !errors.Is(err, cacheerr.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestRelease_WrongOwnerIsNoOp(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	if err := l.Acquire(ctx, "k1", "owner-a", time.Minute, time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(ctx, "k1", "owner-b"); err != nil {
		t.Fatalf("Release (wrong owner): %v", err)
	}

	err := l.Acquire(ctx, "k1", "owner-c", time.Minute, 50*time.Millisecond)
	if !errors.Is(err, cacheerr.ErrLockTimeout) {
		t.Fatalf("expected lock still held by owner-a, got %v", err)
	}
}

func TestAcquire_TransportFailureReturnsUnavailable(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	if err := l.writer.Close(); err != nil {
		t.Fatalf("writer.Close: %v", err)
	}

	err := l.Acquire(ctx, "k1", "owner-a", time.Minute, time.Second)
	if !errors.Is(err, cacheerr.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	if errors.Is(err, cacheerr.ErrLockTimeout) {
		t.Fatalf("transport failure should not be reported as a timeout")
	}
}

func TestAcquire_ExpiredLockIsReclaimed(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	if err := l.Acquire(ctx, "k1", "owner-a", 10*time.Millisecond, time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := l.Acquire(ctx, "k1", "owner-b", time.Minute, time.Second); err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
}
