// Package pipeline wires the key builder, backend, local singleflight
// group, and optional distributed lock into the single call path every
// cached invocation goes through (spec.md §4.7). The per-call logging idiom
// is adapted from the teacher's pipeline.Chain (internal/pipeline/chain.go),
// generalized from an ordered middleware chain to a fixed-step
// cache-then-compute sequence. A panic in the computed function is not
// recovered.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/memocache/internal/backend"
	"github.com/allaspectsdev/memocache/internal/cacheerr"
	"github.com/allaspectsdev/memocache/internal/codec"
	"github.com/allaspectsdev/memocache/internal/keybuilder"
	"github.com/allaspectsdev/memocache/internal/lock"
	"github.com/allaspectsdev/memocache/internal/metrics"
	"github.com/allaspectsdev/memocache/internal/singleflight"
)

// NoExpiry requests an entry that never expires, distinguishing "never
// expire" from ttl's zero value, which means "use the backend's configured
// default" (SPEC_FULL.md §9, resolved Open Question).
const NoExpiry time.Duration = -1

// Options configures one invocation of Pipeline.Run.
type Options struct {
	// TTL is the entry's time-to-live. Zero means the backend's default,
	// NoExpiry means the entry never expires.
	TTL time.Duration
	// Tags are attached to the stored entry for later InvalidateTags
	// calls.
	Tags []string
	// Codec encodes/decodes the computed value. Defaults to codec.JSON.
	Codec codec.Codec
	// SkipCache bypasses both read and write entirely, running fn every
	// time. Used for the ttl=0-as-"do not cache" boundary case that Go's
	// zero time.Duration cannot otherwise represent (SPEC_FULL.md §9).
	SkipCache bool
	// DistributedSingleflight enables cross-process coordination via
	// Pipeline.Locker for this call, in addition to the always-on local
	// singleflight.Group.
	DistributedSingleflight bool
	// LockTTL and LockWaitTimeout bound the distributed lock when
	// DistributedSingleflight is set.
	LockTTL         time.Duration
	LockWaitTimeout time.Duration
}

// Pipeline runs cached invocations: fingerprint the call, consult the
// backend, deduplicate concurrent identical calls, and compute on miss.
type Pipeline struct {
	Backend     backend.Backend
	KeyBuilder  *keybuilder.Builder
	Locker      lock.Locker // nil disables distributed singleflight entirely
	LockerOwner string      // if empty, each lock attempt uses a fresh UUID

	// Metrics, when set, records call outcomes and lock wait times. Nil
	// disables metrics entirely; it is never required for correctness.
	Metrics *metrics.Collector
	// BackendKind labels Metrics observations (e.g. "memory", "redis").
	BackendKind string

	group singleflight.Group
}

// Result is the outcome of one invocation, returned synchronously by Run or
// delivered over RunAsync's channel.
type Result struct {
	Value []byte
	Hit   bool
	Err   error
}

// Run executes the 7-step invocation algorithm: fingerprint the call,
// check the backend, join or lead a local singleflight group, re-check the
// backend after winning the group (another process may have written the
// value while this process waited on a distributed lock), optionally take
// a distributed lock, compute fn, store the result, release any lock, and
// return.
func (p *Pipeline) Run(ctx context.Context, identity string, args []any, named map[string]any, fn func(ctx context.Context) (any, error), opts Options) Result {
	enc := opts.Codec
	if enc == nil {
		enc = codec.JSON
	}

	key, err := p.KeyBuilder.Build(identity, args, named)
	if err != nil {
		return Result{Err: err}
	}

	if p.Metrics != nil {
		p.Metrics.IncrementActive()
		defer p.Metrics.DecrementActive()
	}
	start := time.Now()

	if opts.SkipCache {
		val, err := fn(ctx)
		if err != nil {
			p.recordCall(false, err, start)
			return Result{Err: err}
		}
		data, err := enc.Encode(val)
		if err != nil {
			p.recordCall(false, err, start)
			return Result{Err: err}
		}
		p.recordCall(false, nil, start)
		return Result{Value: data}
	}

	if entry, err := p.Backend.Get(ctx, key); err == nil {
		p.recordCall(true, nil, start)
		return Result{Value: entry.Value, Hit: true}
	} else if errors.Is(err, cacheerr.ErrBackendCorrupt) {
		// Treated as a miss; drop the corrupt entry best-effort.
		_ = p.Backend.Delete(ctx, key)
	} else if !cacheerr.Degraded(err) && !errors.Is(err, cacheerr.ErrNotFound) {
		log.Debug().Err(err).Str("key", key.String()).Msg("pipeline: unexpected backend.Get error, treating as miss")
	}

	val, _, err := p.group.Do(ctx, key, func() ([]byte, error) {
		return p.computeAndStore(ctx, key, fn, enc, opts)
	})
	p.recordCall(false, err, start)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Value: val}
}

// recordCall is a no-op when Metrics is nil.
func (p *Pipeline) recordCall(hit bool, err error, start time.Time) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.RecordCall(hit, err, time.Since(start), p.BackendKind)
}

// computeAndStore is the singleflight leader's body: re-check the backend
// (a concurrent process may have already populated it), optionally acquire
// a distributed lock, run fn, and persist the result.
func (p *Pipeline) computeAndStore(ctx context.Context, key keybuilder.Fingerprint, fn func(ctx context.Context) (any, error), enc codec.Codec, opts Options) ([]byte, error) {
	if entry, err := p.Backend.Get(ctx, key); err == nil {
		return entry.Value, nil
	}

	if opts.DistributedSingleflight && p.Locker != nil {
		owner := p.LockerOwner
		if owner == "" {
			owner = uuid.NewString()
		}

		lockTTL := opts.LockTTL
		if lockTTL <= 0 {
			lockTTL = 10 * time.Second
		}

		lockStart := time.Now()
		if err := p.Locker.Acquire(ctx, string(key), owner, lockTTL, opts.LockWaitTimeout); err != nil {
			if p.Metrics != nil {
				p.Metrics.RecordLockWait(false, time.Since(lockStart))
			}
			if !cacheerr.Degraded(err) {
				return nil, err
			}

			if errors.Is(err, cacheerr.ErrLockTimeout) {
				// Another owner held the lock for the whole wait, but the
				// lock service itself is fine — it may well have published
				// a value while we waited, so check once more before
				// computing uncoordinated (spec.md §4.6, timed-out branch).
				log.Warn().Err(err).Str("key", key.String()).Msg("pipeline: distributed lock wait timed out, checking backend once more before computing uncoordinated")
				if entry, getErr := p.Backend.Get(ctx, key); getErr == nil {
					return entry.Value, nil
				}
			} else {
				// The lock service itself could not be reached; there is
				// nothing more a re-check would tell us, so compute
				// directly (spec.md §4.6, lock-service-unavailable branch).
				log.Warn().Err(err).Str("key", key.String()).Msg("pipeline: distributed lock service unavailable, computing without cross-process coordination")
			}
		} else {
			if p.Metrics != nil {
				p.Metrics.RecordLockWait(true, time.Since(lockStart))
			}
			defer func() {
				if relErr := p.Locker.Release(ctx, string(key), owner); relErr != nil {
					log.Warn().Err(relErr).Str("key", key.String()).Msg("pipeline: failed to release distributed lock")
				}
			}()

			// Re-check after acquiring the lock: the holder before us may
			// have just finished computing and stored the value.
			if entry, err := p.Backend.Get(ctx, key); err == nil {
				return entry.Value, nil
			}
		}
	}

	val, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	data, err := enc.Encode(val)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode result: %w", err)
	}

	if err := p.Backend.Set(ctx, key, data, opts.Tags, opts.TTL); err != nil {
		if !cacheerr.Degraded(err) {
			return nil, err
		}
		log.Warn().Err(err).Str("key", key.String()).Msg("pipeline: backend unavailable, returning computed value without caching it")
	}

	return data, nil
}

// RunAsync runs Run on a new goroutine and returns a channel that receives
// exactly one Result. It is Go's rendering of the blocking/cooperative
// duality as a single call graph offered both synchronously and
// asynchronously (SPEC_FULL.md §5) — not a second implementation of the
// invocation algorithm.
func (p *Pipeline) RunAsync(ctx context.Context, identity string, args []any, named map[string]any, fn func(ctx context.Context) (any, error), opts Options) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- p.Run(ctx, identity, args, named, fn, opts)
	}()
	return ch
}
