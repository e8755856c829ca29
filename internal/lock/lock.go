// Package lock defines the distributed mutual-exclusion contract used by
// the invocation pipeline to coordinate singleflight across processes
// (spec.md §4.6). redislock and sqlitelock are the two concrete backends.
package lock

import (
	"context"
	"time"
)

// Locker is a named, owner-scoped distributed lock. Acquire/Release pairs
// must use the same owner token; Release only succeeds for the owner that
// currently holds the lock, preventing one process from releasing a lock
// another process still holds (e.g. after its own lease expired and was
// re-acquired elsewhere).
type Locker interface {
	// Acquire attempts to take the lock named key for owner, waiting up to
	// waitTimeout for a conflicting holder to release it. The lock expires
	// automatically after ttl if never released, bounding the damage of a
	// crashed holder. Acquire returns cacheerr.ErrLockTimeout if another
	// owner held the lock for the entire wait, or
	// cacheerr.ErrLockUnavailable if the lock service itself could not be
	// reached — the pipeline treats the timeout case differently, retrying
	// the backend read once before computing uncoordinated.
	Acquire(ctx context.Context, key, owner string, ttl, waitTimeout time.Duration) error

	// Release releases key if and only if it is currently held by owner.
	// Releasing a lock not held by owner (e.g. because it already expired
	// and another process acquired it) is a no-op, not an error.
	Release(ctx context.Context, key, owner string) error
}
