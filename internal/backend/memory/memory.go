// Package memory implements an in-process cache backend.Backend backed by a
// map and, optionally, a bounded LRU eviction policy. It is the default
// backend for single-process use (spec.md §4.3).
//
// The structure — forward map, reverse tag index, background sweeper,
// optional bounded LRU — is adapted from the teacher's two-tier
// CacheMiddleware (in-memory LRU plus periodic purger), generalized here to
// be the only tier and to support tag-based invalidation.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/memocache/internal/backend"
	"github.com/allaspectsdev/memocache/internal/cacheerr"
	"github.com/allaspectsdev/memocache/internal/keybuilder"
)

// Backend is an in-memory backend.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	mu       sync.RWMutex
	entries  map[keybuilder.Fingerprint]*backend.Entry
	tagIndex map[string]map[keybuilder.Fingerprint]struct{}

	// bounded is non-nil when MaxEntries > 0; it tracks recency for
	// eviction but the canonical entry data still lives in entries.
	bounded *lru.Cache[keybuilder.Fingerprint, struct{}]

	defaultTTL time.Duration

	hits, misses, sets, evictions, invalidations atomic.Uint64

	sweepDone chan struct{}
}

// Options configures a new in-memory Backend.
type Options struct {
	// DefaultTTL is used when Set is called with ttl == 0.
	DefaultTTL time.Duration
	// MaxEntries bounds the backend to an LRU eviction policy when > 0.
	// Zero means unbounded, relying solely on TTL expiry.
	MaxEntries int
	// SweepInterval, when non-zero, starts a background goroutine that
	// periodically evicts expired entries proactively rather than only
	// on next access (spec.md §4.3, "opportunistic and active expiry").
	SweepInterval time.Duration
}

// New constructs an in-memory Backend per opts. If opts.SweepInterval is
// non-zero, a background sweeper goroutine is started immediately; call
// Close to stop it.
func New(opts Options) (*Backend, error) {
	b := &Backend{
		entries:    make(map[keybuilder.Fingerprint]*backend.Entry),
		tagIndex:   make(map[string]map[keybuilder.Fingerprint]struct{}),
		defaultTTL: opts.DefaultTTL,
	}

	if opts.MaxEntries > 0 {
		c, err := lru.NewWithEvict[keybuilder.Fingerprint, struct{}](opts.MaxEntries, func(key keybuilder.Fingerprint, _ struct{}) {
			b.evictLocked(key)
		})
		if err != nil {
			return nil, err
		}
		b.bounded = c
	}

	if opts.SweepInterval > 0 {
		b.sweepDone = make(chan struct{})
		go b.sweepLoop(opts.SweepInterval)
	}

	return b, nil
}

// Get implements backend.Backend.
func (b *Backend) Get(_ context.Context, key keybuilder.Fingerprint) (*backend.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		b.misses.Add(1)
		return nil, cacheerr.ErrNotFound
	}
	if e.Expired(time.Now()) {
		b.removeLocked(key)
		b.misses.Add(1)
		return nil, cacheerr.ErrNotFound
	}

	if b.bounded != nil {
		b.bounded.Get(key) // touch recency
	}

	b.hits.Add(1)
	cp := *e
	return &cp, nil
}

// Set implements backend.Backend.
func (b *Backend) Set(_ context.Context, key keybuilder.Fingerprint, value []byte, tags []string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ttl == 0 {
		ttl = b.defaultTTL
	}

	now := time.Now()
	e := &backend.Entry{
		Value:    value,
		Tags:     tags,
		StoredAt: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}

	b.removeFromTagIndexLocked(key)
	b.entries[key] = e
	for _, tag := range tags {
		set, ok := b.tagIndex[tag]
		if !ok {
			set = make(map[keybuilder.Fingerprint]struct{})
			b.tagIndex[tag] = set
		}
		set[key] = struct{}{}
	}

	if b.bounded != nil {
		b.bounded.Add(key, struct{}{})
	}

	b.sets.Add(1)
	return nil
}

// Delete implements backend.Backend.
func (b *Backend) Delete(_ context.Context, key keybuilder.Fingerprint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(key)
	return nil
}

// Contains implements backend.Backend. It does not touch LRU recency
// (SPEC_FULL.md §9, resolved Open Question: Contains is a pure existence
// check, not an access for eviction purposes).
func (b *Backend) Contains(_ context.Context, key keybuilder.Fingerprint) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	return !e.Expired(time.Now()), nil
}

// TTL implements backend.Backend.
func (b *Backend) TTL(_ context.Context, key keybuilder.Fingerprint) (time.Duration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[key]
	if !ok {
		return 0, cacheerr.ErrNotFound
	}
	now := time.Now()
	if e.Expired(now) {
		return 0, cacheerr.ErrNotFound
	}
	if e.ExpiresAt.IsZero() {
		return 0, nil
	}
	return e.ExpiresAt.Sub(now), nil
}

// InvalidateTags implements backend.Backend.
func (b *Backend) InvalidateTags(_ context.Context, tags []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	victims := make(map[keybuilder.Fingerprint]struct{})
	for _, tag := range tags {
		for key := range b.tagIndex[tag] {
			victims[key] = struct{}{}
		}
	}
	for key := range victims {
		b.removeLocked(key)
	}

	// Opportunistic sweep: drop any other entries that have already expired.
	now := time.Now()
	for key, e := range b.entries {
		if e.Expired(now) {
			b.removeLocked(key)
		}
	}

	b.invalidations.Add(uint64(len(victims)))
	return len(victims), nil
}

// Clear implements backend.Backend.
func (b *Backend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[keybuilder.Fingerprint]*backend.Entry)
	b.tagIndex = make(map[string]map[keybuilder.Fingerprint]struct{})
	if b.bounded != nil {
		b.bounded.Purge()
	}
	return nil
}

// Stats implements backend.Backend.
func (b *Backend) Stats(_ context.Context) (backend.Stats, error) {
	b.mu.RLock()
	n := len(b.entries)
	b.mu.RUnlock()

	return backend.Stats{
		Hits:          b.hits.Load(),
		Misses:        b.misses.Load(),
		Sets:          b.sets.Load(),
		Evictions:     b.evictions.Load(),
		Invalidations: b.invalidations.Load(),
		Entries:       n,
	}, nil
}

// Close stops the background sweeper, if any.
func (b *Backend) Close() error {
	if b.sweepDone != nil {
		close(b.sweepDone)
	}
	return nil
}

// removeLocked deletes key from entries and the tag index. Callers must
// hold b.mu for writing.
func (b *Backend) removeLocked(key keybuilder.Fingerprint) {
	if _, ok := b.entries[key]; !ok {
		return
	}
	b.removeFromTagIndexLocked(key)
	delete(b.entries, key)
	if b.bounded != nil {
		b.bounded.Remove(key)
	}
}

// evictLocked is the LRU eviction callback; it is invoked by the lru
// package itself while bounded.Add/Get already holds no internal lock
// conflicting with b.mu, since eviction always happens synchronously
// within a call already holding b.mu.
func (b *Backend) evictLocked(key keybuilder.Fingerprint) {
	if _, ok := b.entries[key]; !ok {
		return
	}
	b.removeFromTagIndexLocked(key)
	delete(b.entries, key)
	b.evictions.Add(1)
}

func (b *Backend) removeFromTagIndexLocked(key keybuilder.Fingerprint) {
	e, ok := b.entries[key]
	if !ok {
		return
	}
	for _, tag := range e.Tags {
		set := b.tagIndex[tag]
		delete(set, key)
		if len(set) == 0 {
			delete(b.tagIndex, tag)
		}
	}
}

func (b *Backend) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.sweepDone:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("memory backend: recovered from panic during sweep")
					}
				}()
				b.sweep()
			}()
		}
	}
}

func (b *Backend) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for key, e := range b.entries {
		if e.Expired(now) {
			b.removeLocked(key)
		}
	}
}
