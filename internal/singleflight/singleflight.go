// Package singleflight coordinates concurrent calls that share a
// fingerprint so only one of them computes the result while the rest wait
// for it (spec.md §4.5). The double-checked map access is grounded on the
// teacher's getOrCreateBucket rate limiter idiom
// (internal/security/ratelimit.go), generalized from "create a bucket once"
// to "run a function once and fan its result out to every waiter".
package singleflight

import (
	"context"
	"sync"

	"github.com/allaspectsdev/memocache/internal/keybuilder"
)

// Result is what every waiter on a shared call receives.
type Result struct {
	Val []byte
	Err error
}

// call represents an in-flight or completed computation for one key. done
// is closed once, by the leader, when res is populated — closing rather
// than a sync.WaitGroup lets waiters select it against ctx.Done().
type call struct {
	done chan struct{}
	res  Result
}

// Group coordinates deduplication of concurrent Do calls sharing a key. The
// zero value is ready to use.
type Group struct {
	mu    sync.Mutex
	calls map[keybuilder.Fingerprint]*call
}

// Do executes fn only once for a given key among concurrent callers. The
// caller that arrives first becomes the leader and runs fn to completion;
// every other concurrent caller for the same key waits for the leader and
// receives the identical Result, including a shared error. A waiter whose
// ctx is cancelled detaches and returns ctx.Err() without affecting the
// leader or any other waiter — cancellation races the call's completion
// channel rather than interrupting the computation itself, so the leader
// always runs to completion even if the request that started it
// disconnects (spec.md §4.5, §5 "leader is never cancelled transitively").
func (g *Group) Do(ctx context.Context, key keybuilder.Fingerprint, fn func() ([]byte, error)) (val []byte, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.res.Val, c.res.Err, true
		case <-ctx.Done():
			return nil, ctx.Err(), true
		}
	}

	c := &call{done: make(chan struct{})}
	if g.calls == nil {
		g.calls = make(map[keybuilder.Fingerprint]*call)
	}
	g.calls[key] = c
	g.mu.Unlock()

	g.doCall(key, c, fn)
	return c.res.Val, c.res.Err, false
}

func (g *Group) doCall(key keybuilder.Fingerprint, c *call, fn func() ([]byte, error)) {
	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.res.Val, c.res.Err = fn()
}

// Forget removes key's in-flight call, if any, so the next Do for key
// starts a fresh computation rather than joining a stale one. Used when a
// caller knows the shared result is no longer trustworthy.
func (g *Group) Forget(key keybuilder.Fingerprint) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}
