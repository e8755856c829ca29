// Package keybuilder turns a call's identity, arguments, and namespace into
// a deterministic Fingerprint, the cache key every backend and singleflight
// group coordinates on (spec.md §4.1).
package keybuilder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/allaspectsdev/memocache/internal/cacheerr"
)

// errUnhashableSentinel is wrapped with type/kind detail by fromReflect and
// exposed to callers as cacheerr.ErrUnhashable via errors.Is.
var errUnhashableSentinel = cacheerr.ErrUnhashable

// Fingerprint is an opaque, deterministic cache key. Two calls with the same
// identity, namespace, and canonically-equal arguments always produce the
// same Fingerprint.
type Fingerprint string

// String returns the fingerprint's textual form.
func (f Fingerprint) String() string { return string(f) }

// Builder computes Fingerprints for a single cache namespace. The zero value
// is usable; Prefix and Namespace default to "".
type Builder struct {
	// Prefix is prepended to every fingerprint, e.g. to separate a single
	// shared backend between unrelated applications.
	Prefix string
	// Namespace further scopes fingerprints within Prefix, e.g. one per
	// cached function's package path.
	Namespace string
}

// Build computes the Fingerprint for a call identified by identity (usually
// a fully-qualified function name) invoked with positional args and named
// keyword arguments, per spec.md §4.1's canonicalization algorithm:
// each argument is converted to the Value model, positional arguments are
// canonicalized as an ordered Seq, named arguments as a Map (so keyword
// order never affects the key), then the two encodings and identity are
// hashed together with SHA-256.
//
// Build fails with cacheerr.ErrUnhashable if any argument has no natural or
// fallback canonical form.
func (b *Builder) Build(identity string, args []any, named map[string]any) (Fingerprint, error) {
	argValues := make([]Value, len(args))
	for i, a := range args {
		v, err := FromAny(a)
		if err != nil {
			return "", fmt.Errorf("keybuilder: positional argument %d: %w", i, err)
		}
		argValues[i] = v
	}

	namedEntries := make([]MapEntry, 0, len(named))
	for k, a := range named {
		v, err := FromAny(a)
		if err != nil {
			return "", fmt.Errorf("keybuilder: named argument %q: %w", k, err)
		}
		namedEntries = append(namedEntries, MapEntry{Key: Scalar{V: k}, Value: v})
	}

	h := sha256.New()
	if _, err := fmt.Fprintf(h, "%d:%s", len(identity), identity); err != nil {
		return "", err
	}
	if err := (Seq{Items: argValues}).Canonicalize(h); err != nil {
		return "", err
	}
	if err := (Map{Entries: namedEntries}).Canonicalize(h); err != nil {
		return "", err
	}

	digest := hex.EncodeToString(h.Sum(nil))
	return b.compose(identity, digest), nil
}

// UserKey builds a Fingerprint from an explicit, caller-supplied key string,
// bypassing argument canonicalization entirely. Used when a caller wants
// full control over cache key collisions (spec.md §4.1, "explicit key
// override").
func (b *Builder) UserKey(explicit string) Fingerprint {
	return b.compose("user", explicit)
}

func (b *Builder) compose(identity, suffix string) Fingerprint {
	ns := b.Namespace
	if ns == "" {
		return Fingerprint(fmt.Sprintf("%s%s:%s", b.Prefix, identity, suffix))
	}
	return Fingerprint(fmt.Sprintf("%s%s:%s:%s", b.Prefix, ns, identity, suffix))
}
