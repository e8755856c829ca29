// Package cacheerr defines the sentinel error kinds shared across the
// cache's key builder, backends, and locks, and the propagation policy
// between them.
package cacheerr

import "errors"

// ErrUnhashable is returned by the key builder when an argument cannot be
// canonicalized. Fatal for the call: the user function is never invoked.
var ErrUnhashable = errors.New("memocache: argument is not hashable")

// ErrBackendUnavailable is returned by a backend when its transport is
// down. Reads are treated as a miss and proceed to compute; writes are
// logged and dropped so the caller still receives the computed value.
var ErrBackendUnavailable = errors.New("memocache: backend unavailable")

// ErrBackendCorrupt is returned by a backend when a stored entry cannot be
// decoded. Treated as a miss; the corrupt entry is deleted best-effort.
var ErrBackendCorrupt = errors.New("memocache: stored entry is corrupt")

// ErrLockUnavailable is returned by a distributed lock implementation when
// the lock service itself cannot be reached (a transport or connection
// failure). The pipeline degrades safely and proceeds without cross-process
// coordination.
var ErrLockUnavailable = errors.New("memocache: distributed lock unavailable")

// ErrLockTimeout is returned by a distributed lock implementation when the
// lock service was reachable but another owner held the lock for the
// entire waitTimeout (or the caller's ctx was cancelled while waiting).
// Distinct from ErrLockUnavailable so the pipeline can still attempt one
// more backend read before computing uncoordinated — the holder may have
// published a value during the wait (spec.md §4.6, three-way acquired /
// timed out / lock service unavailable branch).
var ErrLockTimeout = errors.New("memocache: distributed lock wait timed out")

// ErrNotFound is returned by Backend.Get and Backend.TTL when no live entry
// exists for the key. Backend.Delete and Locker.Release do not return it
// for an absent key or a lock held by someone else.
var ErrNotFound = errors.New("memocache: key not found")

// Degraded reports whether err is one of the kinds the pipeline is allowed
// to recover from locally rather than propagate to the caller.
func Degraded(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrBackendCorrupt) ||
		errors.Is(err, ErrLockUnavailable) ||
		errors.Is(err, ErrLockTimeout)
}
