package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/allaspectsdev/memocache/internal/backend"
	"github.com/allaspectsdev/memocache/internal/backend/memory"
	"github.com/allaspectsdev/memocache/internal/cacheerr"
	"github.com/allaspectsdev/memocache/internal/codec"
	"github.com/allaspectsdev/memocache/internal/keybuilder"
	"github.com/allaspectsdev/memocache/internal/metrics"
)

// flakyBackend wraps a real memory.Backend but forces Get/Set to fail with a
// chosen error, simulating a backend.Backend whose transport is down
// (spec.md §8 scenario 6: "degraded path").
type flakyBackend struct {
	*memory.Backend
	getErr error
	setErr error
}

func (f *flakyBackend) Get(ctx context.Context, key keybuilder.Fingerprint) (*backend.Entry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Backend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key keybuilder.Fingerprint, value []byte, tags []string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Backend.Set(ctx, key, value, tags, ttl)
}

// fakeLocker is a lock.Locker test double whose Acquire outcome is fixed per
// test, with an optional hook run immediately before Acquire returns (used
// to simulate a concurrent owner publishing a value during the wait).
type fakeLocker struct {
	acquireErr   error
	onAcquire    func()
	acquireCalls atomic.Int32
	releaseCalls atomic.Int32
}

func (l *fakeLocker) Acquire(ctx context.Context, key, owner string, ttl, waitTimeout time.Duration) error {
	l.acquireCalls.Add(1)
	if l.onAcquire != nil {
		l.onAcquire()
	}
	return l.acquireErr
}

func (l *fakeLocker) Release(ctx context.Context, key, owner string) error {
	l.releaseCalls.Add(1)
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *memory.Backend) {
	t.Helper()
	b, err := memory.New(memory.Options{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	return &Pipeline{
		Backend:    b,
		KeyBuilder: &keybuilder.Builder{Prefix: "test:"},
	}, b
}

func TestRun_MissThenHit(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return map[string]any{"n": 42}, nil
	}

	r1 := p.Run(ctx, "f", []any{1}, nil, fn, Options{})
	if r1.Err != nil {
		t.Fatalf("Run: %v", r1.Err)
	}
	if r1.Hit {
		t.Errorf("expected first call to be a miss")
	}

	r2 := p.Run(ctx, "f", []any{1}, nil, fn, Options{})
	if r2.Err != nil {
		t.Fatalf("Run: %v", r2.Err)
	}
	if !r2.Hit {
		t.Errorf("expected second call to be a hit")
	}
	if string(r1.Value) != string(r2.Value) {
		t.Errorf("values differ: %q vs %q", r1.Value, r2.Value)
	}
	if calls.Load() != 1 {
		t.Errorf("fn called %d times, want 1", calls.Load())
	}
}

func TestRun_PropagatesUserError(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	wantErr := errors.New("boom")

	fn := func(ctx context.Context) (any, error) {
		return nil, wantErr
	}

	r := p.Run(ctx, "f", []any{1}, nil, fn, Options{})
	if !errors.Is(r.Err, wantErr) {
		t.Fatalf("got %v, want %v", r.Err, wantErr)
	}
}

func TestRun_SkipCache(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return calls.Load(), nil
	}

	p.Run(ctx, "f", []any{1}, nil, fn, Options{SkipCache: true})
	p.Run(ctx, "f", []any{1}, nil, fn, Options{SkipCache: true})

	if calls.Load() != 2 {
		t.Errorf("fn called %d times with SkipCache, want 2", calls.Load())
	}
}

func TestRun_DifferentArgsMiss(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	p.Run(ctx, "f", []any{1}, nil, fn, Options{})
	p.Run(ctx, "f", []any{2}, nil, fn, Options{})

	if calls.Load() != 2 {
		t.Errorf("fn called %d times for distinct args, want 2", calls.Load())
	}
}

func TestRunAsync_DeliversResult(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	fn := func(ctx context.Context) (any, error) {
		return "v", nil
	}

	ch := p.RunAsync(ctx, "f", []any{1}, nil, fn, Options{})
	select {
	case r := <-ch:
		if r.Err != nil {
			t.Fatalf("RunAsync: %v", r.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunAsync result")
	}
}

func TestRun_TagInvalidation(t *testing.T) {
	p, b := newTestPipeline(t)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	p.Run(ctx, "f", []any{1}, nil, fn, Options{Tags: []string{"user:1"}})
	if calls.Load() != 1 {
		t.Fatalf("expected one compute, got %d", calls.Load())
	}

	n, err := b.InvalidateTags(ctx, []string{"user:1"})
	if err != nil {
		t.Fatalf("InvalidateTags: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d invalidated, want 1", n)
	}

	p.Run(ctx, "f", []any{1}, nil, fn, Options{Tags: []string{"user:1"}})
	if calls.Load() != 2 {
		t.Errorf("expected recompute after invalidation, got %d calls", calls.Load())
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.Metrics = metrics.NewCollector()
	p.BackendKind = "memory"
	ctx := context.Background()

	fn := func(ctx context.Context) (any, error) { return "v", nil }

	p.Run(ctx, "f", []any{1}, nil, fn, Options{})
	p.Run(ctx, "f", []any{1}, nil, fn, Options{})

	stats := p.Metrics.Stats()
	if stats.TotalCalls != 2 {
		t.Errorf("TotalCalls: got %d, want 2", stats.TotalCalls)
	}
	if stats.CacheMisses != 1 || stats.CacheHits != 1 {
		t.Errorf("got misses=%d hits=%d, want 1 and 1", stats.CacheMisses, stats.CacheHits)
	}
	if stats.ActiveCalls != 0 {
		t.Errorf("ActiveCalls after completion: got %d, want 0", stats.ActiveCalls)
	}
}

func TestRun_DegradedBackendReturnsComputedValue(t *testing.T) {
	b, err := memory.New(memory.Options{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	fb := &flakyBackend{Backend: b, getErr: cacheerr.ErrBackendUnavailable, setErr: cacheerr.ErrBackendUnavailable}

	p := &Pipeline{Backend: fb, KeyBuilder: &keybuilder.Builder{Prefix: "test:"}}
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	r := p.Run(ctx, "f", []any{1}, nil, fn, Options{})
	if r.Err != nil {
		t.Fatalf("Run: %v", r.Err)
	}
	if r.Hit {
		t.Errorf("expected a miss since Get always fails")
	}

	var got string
	if err := json.Unmarshal(r.Value, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got != "v" {
		t.Errorf("got %q, want the computed value despite backend unavailability", got)
	}
	if calls.Load() != 1 {
		t.Errorf("fn called %d times, want 1", calls.Load())
	}
}

func TestRun_DistributedLockAcquired_ReleasesAfterCompute(t *testing.T) {
	p, _ := newTestPipeline(t)
	locker := &fakeLocker{}
	p.Locker = locker

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "computed", nil
	}

	r := p.Run(context.Background(), "f", []any{1}, nil, fn, Options{
		DistributedSingleflight: true,
		LockWaitTimeout:         time.Second,
	})
	if r.Err != nil {
		t.Fatalf("Run: %v", r.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("fn called %d times, want 1", calls.Load())
	}
	if locker.acquireCalls.Load() != 1 {
		t.Errorf("Acquire called %d times, want 1", locker.acquireCalls.Load())
	}
	if locker.releaseCalls.Load() != 1 {
		t.Errorf("Release called %d times, want 1", locker.releaseCalls.Load())
	}
}

func TestRun_DistributedLockTimeout_ChecksBackendBeforeComputing(t *testing.T) {
	p, b := newTestPipeline(t)

	key, err := p.KeyBuilder.Build("f", []any{1}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	locker := &fakeLocker{acquireErr: cacheerr.ErrLockTimeout}
	locker.onAcquire = func() {
		// Simulate the lock holder publishing its result while we were
		// waiting, so it's already there by the time our wait times out.
		data, encErr := codec.JSON.Encode("published-by-other-owner")
		if encErr != nil {
			t.Fatalf("encode: %v", encErr)
		}
		if setErr := b.Set(context.Background(), key, data, nil, 0); setErr != nil {
			t.Fatalf("Set: %v", setErr)
		}
	}
	p.Locker = locker

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "computed", nil
	}

	r := p.Run(context.Background(), "f", []any{1}, nil, fn, Options{
		DistributedSingleflight: true,
		LockWaitTimeout:         time.Millisecond,
	})
	if r.Err != nil {
		t.Fatalf("Run: %v", r.Err)
	}

	var got string
	if err := json.Unmarshal(r.Value, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got != "published-by-other-owner" {
		t.Errorf("got %q, want the value published during the lock wait", got)
	}
	if calls.Load() != 0 {
		t.Errorf("fn called %d times, want 0 (re-check should have found the published value)", calls.Load())
	}
	if locker.releaseCalls.Load() != 0 {
		t.Errorf("Release called %d times, want 0 (lock was never acquired)", locker.releaseCalls.Load())
	}
}

func TestRun_DistributedLockUnavailable_ComputesDirectly(t *testing.T) {
	p, _ := newTestPipeline(t)
	locker := &fakeLocker{acquireErr: cacheerr.ErrLockUnavailable}
	p.Locker = locker

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "computed", nil
	}

	r := p.Run(context.Background(), "f", []any{1}, nil, fn, Options{
		DistributedSingleflight: true,
		LockWaitTimeout:         time.Millisecond,
	})
	if r.Err != nil {
		t.Fatalf("Run: %v", r.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("fn called %d times, want 1", calls.Load())
	}
	if locker.releaseCalls.Load() != 0 {
		t.Errorf("Release called %d times, want 0 (lock was never acquired)", locker.releaseCalls.Load())
	}
}
