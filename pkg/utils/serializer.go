// Package utils provides serialization utilities for cache entries and events.
//
// This file defines the Serializer contract L2Store encodes and decodes
// against, plus the JSON implementation cachecore ships by
// default. Concrete alternative serializers (MessagePack, protobuf) are
// deliberately left unimplemented: the cache engine only needs to agree on
// the contract, not pick a wire format for its callers.
//
// Design Notes:
//   - JSON is default for portability and debugging
//   - MsgPack can be added by implementing Serializer; not wired in here
//     since doing so would mean picking one concrete format for every caller
//   - All encoding errors include context for debugging
//
// Trade-offs:
//   - JSON: Human-readable, slower (~2x), larger size (~1.3x)
//   - MsgPack: Binary, faster, smaller, requires external dep and a caller
//     decision this package does not make for them
//
// Production extensions:
//   - Add a MessagePack Serializer via github.com/vmihailenco/msgpack/v5
//   - Implement a CompressingSerializer wrapper for large values (gzip, snappy)
package utils

import (
	"encoding/json"
	"fmt"

	"github.com/otero-cache/cachecore/pkg/models"
)

// Serializer converts between a typed value and its wire representation.
// L2Store depends only on this contract, never on a concrete encoding, so a
// caller can swap in a binary format without touching cache logic.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer is the default Serializer, backed by encoding/json.
type JSONSerializer struct{}

// NewJSONSerializer constructs the default JSON Serializer.
func NewJSONSerializer() *JSONSerializer { return &JSONSerializer{} }

// Marshal implements Serializer.
func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("utils: marshal failed: %w", err)
	}
	return data, nil
}

// Unmarshal implements Serializer.
func (JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("utils: cannot unmarshal empty data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("utils: unmarshal failed: %w", err)
	}
	return nil
}

var _ Serializer = (*JSONSerializer)(nil)

// MarshalEntry serializes a wire-format cache entry to bytes using ser.
func MarshalEntry(ser Serializer, e *models.Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("utils: cannot marshal nil entry")
	}
	return ser.Marshal(e)
}

// UnmarshalEntry deserializes a wire-format cache entry using ser.
func UnmarshalEntry(ser Serializer, data []byte) (*models.Entry, error) {
	var entry models.Entry
	if err := ser.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("utils: failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// CompactJSON compacts JSON by removing whitespace. Useful for reducing
// payload size in the audit log when human-readability isn't needed.
func CompactJSON(data []byte) ([]byte, error) {
	var compacted json.RawMessage
	if err := json.Unmarshal(data, &compacted); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return json.Marshal(compacted)
}

// EstimateEncodedSize estimates the JSON-encoded size of a value in bytes.
// Returns 0 if the value cannot be marshaled. L1Store does not call it; its
// capacity is counted in entries.
func EstimateEncodedSize(v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
