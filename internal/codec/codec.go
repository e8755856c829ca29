// Package codec defines the deterministic serialization boundary between
// the invocation pipeline's typed results and the byte strings backends
// store. The default codec is JSON, matching the teacher's use of
// encoding/json throughout the request/response pipeline.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Codec encodes a computed result to bytes for storage and decodes it back.
// Implementations must round-trip: Decode(Encode(v)) produces a value equal
// to v for every v the pipeline will ever pass through it.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// JSON is the default codec. It is used whenever a pipeline.Options does
// not specify one.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: json decode: %w", err)
	}
	return nil
}

// Gob is an alternative codec for Go-to-Go caching of types that do not
// round-trip cleanly through JSON (e.g. values carrying interfaces
// registered with gob.Register).
var Gob Codec = gobCodec{}

type gobCodec struct{}

func (gobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("codec: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Decode(data []byte, out any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("codec: gob decode: %w", err)
	}
	return nil
}
