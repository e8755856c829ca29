package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/allaspectsdev/memocache/internal/cacheerr"
	"github.com/allaspectsdev/memocache/internal/testutil"
)

func TestClear_BulkKeys(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	keys := testutil.SampleKeys(25)
	for _, k := range keys {
		_ = b.Set(ctx, k, []byte("v"), nil, 0)
	}

	stats, _ := b.Stats(ctx)
	if stats.Entries != len(keys) {
		t.Fatalf("got %d entries, want %d", stats.Entries, len(keys))
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, _ = b.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("got %d entries after Clear, want 0", stats.Entries)
	}
}

func TestSetGet_RoundTrip(t *testing.T) {
	b, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := b.Set(ctx, "k1", []byte("v1"), nil, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, err := b.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(e.Value) != "v1" {
		t.Errorf("got value %q, want v1", e.Value)
	}
}

func TestGet_MissReturnsErrNotFound(t *testing.T) {
	b, _ := New(Options{})
	_, err := b.Get(context.Background(), "missing")
	if !errors.Is(err, cacheerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	if err := b.Set(ctx, "k1", []byte("v1"), nil, time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err := b.Get(ctx, "k1")
	if !errors.Is(err, cacheerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired entry, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), nil, 0)
	if err := b.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, "k1"); !errors.Is(err, cacheerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestContains_DoesNotAffectRecency(t *testing.T) {
	b, err := New(Options{MaxEntries: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), nil, 0)
	ok, err := b.Contains(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Contains: ok=%v err=%v", ok, err)
	}

	// Adding a second entry should evict k1 since Contains must not have
	// refreshed its recency.
	_ = b.Set(ctx, "k2", []byte("v2"), nil, 0)

	if _, err := b.Get(ctx, "k1"); !errors.Is(err, cacheerr.ErrNotFound) {
		t.Fatalf("expected k1 evicted, got err=%v", err)
	}
}

func TestInvalidateTags(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), []string{"user:1", "region:eu"}, 0)
	_ = b.Set(ctx, "k2", []byte("v2"), []string{"user:2"}, 0)
	_ = b.Set(ctx, "k3", []byte("v3"), []string{"region:eu"}, 0)

	n, err := b.InvalidateTags(ctx, []string{"region:eu"})
	if err != nil {
		t.Fatalf("InvalidateTags: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d invalidated, want 2", n)
	}

	if _, err := b.Get(ctx, "k1"); !errors.Is(err, cacheerr.ErrNotFound) {
		t.Errorf("k1 should be invalidated")
	}
	if _, err := b.Get(ctx, "k2"); err != nil {
		t.Errorf("k2 should survive, got %v", err)
	}
	if _, err := b.Get(ctx, "k3"); !errors.Is(err, cacheerr.ErrNotFound) {
		t.Errorf("k3 should be invalidated")
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Invalidations != 2 {
		t.Errorf("got %d invalidations, want 2", stats.Invalidations)
	}
}

func TestTTL(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), nil, time.Minute)
	ttl, err := b.TTL(ctx, "k1")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("got ttl %v, want a positive duration at most a minute", ttl)
	}

	_ = b.Set(ctx, "k2", []byte("v2"), nil, -1)
	ttl, err = b.TTL(ctx, "k2")
	if err != nil {
		t.Fatalf("TTL for non-expiring entry: %v", err)
	}
	if ttl != 0 {
		t.Errorf("got ttl %v for a never-expiring entry, want 0", ttl)
	}

	if _, err := b.TTL(ctx, "missing"); !errors.Is(err, cacheerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing key, got %v", err)
	}
}

func TestClear(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), []string{"t1"}, 0)
	_ = b.Set(ctx, "k2", []byte("v2"), nil, 0)

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	stats, _ := b.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("got %d entries after Clear, want 0", stats.Entries)
	}
}

func TestStats_TracksHitsAndMisses(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), nil, 0)
	_, _ = b.Get(ctx, "k1")
	_, _ = b.Get(ctx, "missing")

	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Hits != 1 {
		t.Errorf("got %d hits, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("got %d misses, want 1", stats.Misses)
	}
	if stats.Sets != 1 {
		t.Errorf("got %d sets, want 1", stats.Sets)
	}
}

func TestBoundedEviction(t *testing.T) {
	b, err := New(Options{MaxEntries: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), nil, 0)
	_ = b.Set(ctx, "k2", []byte("v2"), nil, 0)
	_ = b.Set(ctx, "k3", []byte("v3"), nil, 0)

	stats, _ := b.Stats(ctx)
	if stats.Entries != 2 {
		t.Errorf("got %d entries, want 2 (bounded)", stats.Entries)
	}
	if stats.Evictions != 1 {
		t.Errorf("got %d evictions, want 1", stats.Evictions)
	}
}

func TestSweeper_ProactivelyRemovesExpired(t *testing.T) {
	b, err := New(Options{SweepInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	_ = b.Set(ctx, "k1", []byte("v1"), nil, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	stats, _ := b.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("expected sweeper to remove expired entry, got %d entries", stats.Entries)
	}
}

func TestNoExpiry_NeverExpires(t *testing.T) {
	b, _ := New(Options{})
	ctx := context.Background()

	if err := b.Set(ctx, "k1", []byte("v1"), nil, -1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := b.Get(ctx, "k1"); err != nil {
		t.Errorf("entry with negative ttl should never expire, got %v", err)
	}
}
