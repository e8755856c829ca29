// Package invalidate provides the thin, external invalidation surface over
// a backend.Backend (spec.md §4.8): delete by explicit key, delete by tag,
// or clear everything.
package invalidate

import (
	"context"

	"github.com/allaspectsdev/memocache/internal/backend"
	"github.com/allaspectsdev/memocache/internal/keybuilder"
)

// Result reports what an Invalidate call did.
type Result struct {
	// KeysDeleted counts the explicit keys passed to Backend.Delete, whether
	// or not an entry existed for them.
	KeysDeleted int
	// TagsMatched is the number of entries InvalidateTags removed.
	TagsMatched int
}

// Invalidate deletes every entry named by keys and every entry carrying
// any tag in tags. Either slice may be empty.
func Invalidate(ctx context.Context, b backend.Backend, keys []keybuilder.Fingerprint, tags []string) (Result, error) {
	var res Result

	for _, k := range keys {
		if err := b.Delete(ctx, k); err != nil {
			return res, err
		}
		res.KeysDeleted++
	}

	if len(tags) > 0 {
		n, err := b.InvalidateTags(ctx, tags)
		if err != nil {
			return res, err
		}
		res.TagsMatched = n
	}

	return res, nil
}

// InvalidateAll clears every entry the backend manages.
func InvalidateAll(ctx context.Context, b backend.Backend) error {
	return b.Clear(ctx)
}
