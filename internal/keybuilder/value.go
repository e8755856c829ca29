package keybuilder

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// Value is the tagged-variant canonicalization model every argument is
// converted to before hashing (design note §9: "heterogeneous argument
// canonicalization"). Canonicalize writes a self-delimiting encoding of the
// value to w; callers never need to read it back, only hash it.
type Value interface {
	Canonicalize(w io.Writer) error
}

// Canonicalizer lets a caller's own type participate in fingerprinting
// without the builder falling back to KIND_UNHASHABLE.
type Canonicalizer interface {
	Canonicalize(w io.Writer) error
}

// Scalar wraps a bool, numeric, string, or nil value.
type Scalar struct{ V any }

// Bytes wraps a raw byte string, kept distinct from Scalar strings because
// the wire encoding differs (length-prefixed, no escaping needed).
type Bytes struct{ B []byte }

// Seq is an ordered sequence; element order is part of the fingerprint.
type Seq struct{ Items []Value }

// UnorderedSeq is a set or other collection whose iteration order must not
// affect the fingerprint; elements are sorted by their canonical form
// before hashing.
type UnorderedSeq struct{ Items []Value }

// Map is canonicalized as a sorted sequence of (key, value) pairs so that
// hash-table iteration order never leaks into the fingerprint.
type Map struct{ Entries []MapEntry }

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   Value
	Value Value
}

// Opaque is the fallback for a type with no natural canonical form but a
// stable textual representation (design note §9's "type tag plus a stable
// textual representation").
type Opaque struct {
	TypeTag string
	Repr    string
}

func writeTag(w io.Writer, tag byte) error {
	_, err := w.Write([]byte{tag})
	return err
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if _, err := fmt.Fprintf(w, "%d:", len(b)); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

const (
	tagNil byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagBytes
	tagSeq
	tagUnordered
	tagMap
	tagOpaque
	tagNaN
)

// Canonicalize implements Value for Scalar.
func (s Scalar) Canonicalize(w io.Writer) error {
	switch v := s.V.(type) {
	case nil:
		return writeTag(w, tagNil)
	case bool:
		if err := writeTag(w, tagBool); err != nil {
			return err
		}
		if v {
			return writeLenPrefixed(w, []byte("1"))
		}
		return writeLenPrefixed(w, []byte("0"))
	case int:
		return canonInt(w, int64(v))
	case int32:
		return canonInt(w, int64(v))
	case int64:
		return canonInt(w, v)
	case uint:
		return canonInt(w, int64(v))
	case uint64:
		return canonInt(w, int64(v))
	case float32:
		return canonFloat(w, float64(v))
	case float64:
		return canonFloat(w, v)
	case string:
		if err := writeTag(w, tagString); err != nil {
			return err
		}
		return writeLenPrefixed(w, []byte(v))
	default:
		return fmt.Errorf("keybuilder: scalar of unsupported type %T", v)
	}
}

func canonInt(w io.Writer, v int64) error {
	if err := writeTag(w, tagInt); err != nil {
		return err
	}
	return writeLenPrefixed(w, []byte(strconv.FormatInt(v, 10)))
}

// canonFloat hashes NaN to a single sentinel tag regardless of its sign or
// payload bits, per spec.md §4.1 "Floating-point NaN hashes to a single
// sentinel" and §8's boundary behavior requiring equal fingerprints for NaN
// arguments.
func canonFloat(w io.Writer, v float64) error {
	if math.IsNaN(v) {
		return writeTag(w, tagNaN)
	}
	if err := writeTag(w, tagFloat); err != nil {
		return err
	}
	return writeLenPrefixed(w, []byte(strconv.FormatFloat(v, 'g', -1, 64)))
}

// Canonicalize implements Value for Bytes.
func (b Bytes) Canonicalize(w io.Writer) error {
	if err := writeTag(w, tagBytes); err != nil {
		return err
	}
	return writeLenPrefixed(w, b.B)
}

// Canonicalize implements Value for Seq: [len, elem0, elem1, …].
func (s Seq) Canonicalize(w io.Writer) error {
	if err := writeTag(w, tagSeq); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d:", len(s.Items)); err != nil {
		return err
	}
	for _, item := range s.Items {
		if err := item.Canonicalize(w); err != nil {
			return err
		}
	}
	return nil
}

// Canonicalize implements Value for UnorderedSeq by sorting elements on
// their own canonical encoding before emitting them, so permutation of the
// input never changes the fingerprint (spec.md §4.1, §8).
func (s UnorderedSeq) Canonicalize(w io.Writer) error {
	encoded, err := sortedEncodings(s.Items)
	if err != nil {
		return err
	}
	if err := writeTag(w, tagUnordered); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d:", len(encoded)); err != nil {
		return err
	}
	for _, e := range encoded {
		if _, err := w.Write(e); err != nil {
			return err
		}
	}
	return nil
}

// Canonicalize implements Value for Map as a sorted sequence of
// (canonical_key, canonical_value) pairs (spec.md §4.1).
func (m Map) Canonicalize(w io.Writer) error {
	pairs := make([]Value, len(m.Entries))
	for i, e := range m.Entries {
		pairs[i] = pairEncoder{e}
	}
	encoded, err := sortedEncodings(pairs)
	if err != nil {
		return err
	}
	if err := writeTag(w, tagMap); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d:", len(encoded)); err != nil {
		return err
	}
	for _, e := range encoded {
		if _, err := w.Write(e); err != nil {
			return err
		}
	}
	return nil
}

// pairEncoder canonicalizes a MapEntry as the concatenation of its key and
// value encodings, used only to sort map entries deterministically.
type pairEncoder struct{ e MapEntry }

func (p pairEncoder) Canonicalize(w io.Writer) error {
	if err := p.e.Key.Canonicalize(w); err != nil {
		return err
	}
	return p.e.Value.Canonicalize(w)
}

// Canonicalize implements Value for Opaque.
func (o Opaque) Canonicalize(w io.Writer) error {
	if err := writeTag(w, tagOpaque); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, []byte(o.TypeTag)); err != nil {
		return err
	}
	return writeLenPrefixed(w, []byte(o.Repr))
}

// sortedEncodings canonicalizes every item then sorts the resulting byte
// strings lexicographically, giving a permutation-invariant ordering.
func sortedEncodings(items []Value) ([][]byte, error) {
	out := make([][]byte, len(items))
	for i, item := range items {
		var buf bytes.Buffer
		if err := item.Canonicalize(&buf); err != nil {
			return nil, err
		}
		out[i] = buf.Bytes()
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i]) < string(out[j])
	})
	return out, nil
}
