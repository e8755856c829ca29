package testutil

import (
	"fmt"
	"time"

	"github.com/allaspectsdev/memocache/internal/backend"
	"github.com/allaspectsdev/memocache/internal/keybuilder"
)

// SampleArgs returns a slice of positional arguments covering the scalar,
// slice, and map shapes keybuilder.FromAny has to handle.
func SampleArgs() []any {
	return []any{
		"user-42",
		17,
		3.14,
		[]string{"eu", "us"},
		map[string]any{"retries": 3, "dry_run": false},
	}
}

// SampleNamedArgs returns a map of named arguments for keybuilder.Builder.Build.
func SampleNamedArgs() map[string]any {
	return map[string]any{
		"region": "eu-west-1",
		"cache":  true,
	}
}

// SampleEntry builds a backend.Entry with the given tags, stored now and
// expiring after ttl (ttl <= 0 means no expiry).
func SampleEntry(value string, tags []string, ttl time.Duration) *backend.Entry {
	now := time.Now()
	e := &backend.Entry{
		Value:    []byte(value),
		Tags:     tags,
		StoredAt: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// SampleKeys generates n distinct fingerprints for bulk backend tests.
func SampleKeys(n int) []keybuilder.Fingerprint {
	keys := make([]keybuilder.Fingerprint, n)
	for i := range keys {
		keys[i] = keybuilder.Fingerprint(fmt.Sprintf("test:key-%d", i))
	}
	return keys
}
