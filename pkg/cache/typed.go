package cache

import (
	"encoding/json"
	"time"
)

// GetTyped decodes a cached JSON value into T. A miss, an expired or
// version-mismatched entry, or a value that does not decode as T all
// return the zero value and false.
func GetTyped[T any](s *Store, key, version string) (T, bool) {
	var zero T
	data, ok := s.Get(key, version)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false
	}
	return v, true
}

// SetTyped stores v under key. It exists for symmetry with GetTyped; the
// value is encoded the same way Set encodes any value.
func SetTyped[T any](s *Store, key string, v T, ttl time.Duration, version string) {
	s.Set(key, v, ttl, version)
}
