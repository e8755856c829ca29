package keybuilder

import (
	"fmt"
	"io"
	"reflect"
	"sort"
)

// FromAny converts an arbitrary Go value into the canonicalization Value
// model. It recognizes the scalar kinds, []byte, slices/arrays (Seq), maps
// (Map, sorted by canonical key), and any type implementing Canonicalizer.
// A struct falls back to Opaque (its type name plus its String() result)
// when it implements fmt.Stringer; a struct without String() and every
// other kind (channels, funcs, ...) fails with ErrUnhashable (spec.md §4.1).
func FromAny(v any) (Value, error) {
	if v == nil {
		return Scalar{V: nil}, nil
	}

	if c, ok := v.(Canonicalizer); ok {
		return canonicalizerValue{c}, nil
	}

	rv := reflect.ValueOf(v)
	return fromReflect(rv)
}

// canonicalizerValue adapts a user-supplied Canonicalizer into Value.
type canonicalizerValue struct{ c Canonicalizer }

func (c canonicalizerValue) Canonicalize(w io.Writer) error {
	return c.c.Canonicalize(w)
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return Scalar{V: rv.Bool()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Scalar{V: rv.Int()}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Scalar{V: int64(rv.Uint())}, nil
	case reflect.Float32, reflect.Float64:
		return Scalar{V: rv.Float()}, nil
	case reflect.String:
		return Scalar{V: rv.String()}, nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Bytes{B: b}, nil
		}
		items := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := fromReflect(derefInterface(rv.Index(i)))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return Seq{Items: items}, nil
	case reflect.Map:
		entries := make([]MapEntry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := fromReflect(derefInterface(iter.Key()))
			if err != nil {
				return nil, err
			}
			val, err := fromReflect(derefInterface(iter.Value()))
			if err != nil {
				return nil, err
			}
			entries = append(entries, MapEntry{Key: k, Value: val})
		}
		sort.Slice(entries, func(i, j int) bool {
			return fmt.Sprint(entries[i].Key) < fmt.Sprint(entries[j].Key)
		})
		return Map{Entries: entries}, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Scalar{V: nil}, nil
		}
		return fromReflect(rv.Elem())
	case reflect.Struct:
		if s, ok := stableString(rv); ok {
			return Opaque{TypeTag: rv.Type().String(), Repr: s}, nil
		}
		return nil, fmt.Errorf("%w: struct %s has no stable representation", errUnhashableSentinel, rv.Type())
	default:
		return nil, fmt.Errorf("%w: kind %s", errUnhashableSentinel, rv.Kind())
	}
}

func derefInterface(rv reflect.Value) reflect.Value {
	if rv.Kind() == reflect.Interface && !rv.IsNil() {
		return rv.Elem()
	}
	return rv
}

// stableString reports whether rv's type has a natural, stable textual
// form — a String() string method (fmt.Stringer) or a type implementing
// encoding.TextMarshaler-shaped behavior via String().
func stableString(rv reflect.Value) (string, bool) {
	if rv.CanInterface() {
		if s, ok := rv.Interface().(fmt.Stringer); ok {
			return s.String(), true
		}
	}
	if rv.CanAddr() && rv.Addr().CanInterface() {
		if s, ok := rv.Addr().Interface().(fmt.Stringer); ok {
			return s.String(), true
		}
	}
	return "", false
}
