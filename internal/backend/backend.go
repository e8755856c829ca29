// Package backend defines the storage contract every cache backend
// implements — in-memory, remote KV, or a future addition — plus the
// shared CacheEntry and Stats types that flow through the invocation
// pipeline (spec.md §3, §4.2).
package backend

import (
	"context"
	"time"

	"github.com/allaspectsdev/memocache/internal/keybuilder"
)

// Entry is one stored cache record: the encoded result, its tag set (for
// invalidation), and its lifecycle timestamps.
type Entry struct {
	Value     []byte
	Tags      []string
	StoredAt  time.Time
	ExpiresAt time.Time // zero means never expires
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats is a point-in-time snapshot of a backend's activity counters
// (spec.md §4.2, "every backend exposes hit/miss/eviction counts for
// observability").
type Stats struct {
	Hits          uint64
	Misses        uint64
	Sets          uint64
	Evictions     uint64
	Invalidations uint64
	Entries       int
}

// Backend is the storage contract the invocation pipeline uses to persist
// and retrieve computed results. All methods are safe for concurrent use.
// Implementations that front an unreachable remote service return an error
// wrapping cacheerr.ErrBackendUnavailable rather than blocking indefinitely;
// the pipeline treats that as a miss on read and a dropped write on write.
type Backend interface {
	// Get retrieves the entry stored under key. It returns
	// cacheerr.ErrNotFound if no live entry exists (including one that has
	// expired).
	Get(ctx context.Context, key keybuilder.Fingerprint) (*Entry, error)

	// Set stores value under key with the given tags and ttl. A zero ttl
	// means the backend's configured default; use pipeline.NoExpiry to
	// request an entry that never expires.
	Set(ctx context.Context, key keybuilder.Fingerprint, value []byte, tags []string, ttl time.Duration) error

	// Delete removes key unconditionally. It is not an error if key does
	// not exist.
	Delete(ctx context.Context, key keybuilder.Fingerprint) error

	// Contains reports whether a live (unexpired) entry exists for key,
	// without affecting eviction recency bookkeeping.
	Contains(ctx context.Context, key keybuilder.Fingerprint) (bool, error)

	// TTL returns the remaining time-to-live of the entry stored under
	// key. It returns cacheerr.ErrNotFound if no live entry exists. A
	// remaining duration of zero means the entry never expires.
	TTL(ctx context.Context, key keybuilder.Fingerprint) (time.Duration, error)

	// InvalidateTags deletes every entry carrying any tag in tags and
	// returns the number of entries removed. Removal is best-effort: a
	// remote backend's invalidation is not required to be atomic with
	// concurrent writers (SPEC_FULL.md §9, resolved Open Question).
	InvalidateTags(ctx context.Context, tags []string) (int, error)

	// Clear removes every entry this backend manages.
	Clear(ctx context.Context) error

	// Stats returns a snapshot of the backend's activity counters.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources (connections, goroutines) held by the
	// backend.
	Close() error
}
