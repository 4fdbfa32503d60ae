package model

import (
	"fmt"
	"strings"
)

// Reserved metadata keys (spec §3).
const (
	MetaHostname        = "hostname"
	MetaSource          = "source"
	MetaLargeContentRef = "large_content_ref"
	MetaOriginalLength  = "original_length"
)

// Metadata is a mapping from string keys to string, float64, bool, or
// nil leaf values. Nested objects and arrays are rejected at
// construction time — the Go-native reading of "non-JSON-serializable
// metadata" from spec §4.8.
type Metadata map[string]interface{}

// NormalizeMetadata trims string values and validates that every value
// is a scalar leaf. It never mutates the input map.
func NormalizeMetadata(in map[string]interface{}) (Metadata, error) {
	out := make(Metadata, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil, bool:
			out[k] = val
		case string:
			out[k] = strings.TrimSpace(val)
		case float64:
			out[k] = val
		case float32:
			out[k] = float64(val)
		case int:
			out[k] = float64(val)
		case int64:
			out[k] = float64(val)
		default:
			return nil, fmt.Errorf("metadata key %q has non-scalar value of type %T", k, v)
		}
	}
	return out, nil
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a new Metadata with patch's keys overlaid onto m. A
// patch value of nil deletes the key, matching update_metadata's merge
// contract (spec §4.4).
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// StringValue returns the string value stored at key, if any.
func (m Metadata) StringValue(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
