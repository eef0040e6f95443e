// Package codec provides key and value serializers for indexes.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Codec encodes values of type T to bytes and back.
// Encoded keys are compared byte-wise, so a key codec must be deterministic.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// KeyCodec serializes index keys.
type KeyCodec[K any] = Codec[K]

// ValueCodec serializes index values.
type ValueCodec[V any] = Codec[V]

// String stores strings as their UTF-8 bytes.
type String struct{}

func (String) Encode(v string) ([]byte, error)    { return []byte(v), nil }
func (String) Decode(data []byte) (string, error) { return string(data), nil }

// Bytes stores byte slices as-is (copied on decode).
type Bytes struct{}

func (Bytes) Encode(v []byte) ([]byte, error) { return v, nil }
func (Bytes) Decode(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Uint64 stores integers big-endian, so byte order matches numeric order.
type Uint64 struct{}

func (Uint64) Encode(v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, v), nil
}

func (Uint64) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("uint64 codec: want 8 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// JSON stores any JSON-marshalable value. Not suitable for map keys,
// whose encoding order is not guaranteed to match equality.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return data, nil
}

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("json codec: %w", err)
	}
	return v, nil
}
