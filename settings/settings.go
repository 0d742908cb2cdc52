// Package settings holds the flat key → primitive configuration that is
// projected into every fixer, plus the sources it can come from (a YAML
// file, a SQLite store that is watched for live changes).
package settings

import (
	"errors"
	"maps"
	"slices"
)

// Known keys.
const (
	KeyQuickShareButton = "quick_share_button"
	KeyShipSaver        = "ship_saver"
)

// ErrNotFound is returned by Store.Get for an unknown key.
var ErrNotFound = errors.New("settings: key not found")

// ErrNotPrimitive is returned for values other than bool, number, string.
var ErrNotPrimitive = errors.New("settings: value must be a primitive")

// Settings is an immutable flat mapping from key to primitive value
// (bool, float64, string). Fixers read it during ApplySettings and copy
// what they need; they never keep the Settings value itself.
type Settings struct {
	values map[string]any
}

// New copies m into a Settings value.
func New(m map[string]any) Settings {
	return Settings{values: maps.Clone(m)}
}

// Defaults enables every compiled-in fixer.
func Defaults() Settings {
	return New(map[string]any{
		KeyQuickShareButton: true,
		KeyShipSaver:        true,
	})
}

// Bool returns the boolean stored under key. Missing keys and non-boolean
// values read as false.
func (s Settings) Bool(key string) bool {
	b, _ := s.values[key].(bool)
	return b
}

// Value returns the raw value stored under key.
func (s Settings) Value(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// With returns a copy of s with key set to v.
func (s Settings) With(key string, v any) Settings {
	m := maps.Clone(s.values)
	if m == nil {
		m = make(map[string]any, 1)
	}
	m[key] = v
	return Settings{values: m}
}

// Merge returns a copy of s overlaid with every key of o.
func (s Settings) Merge(o Settings) Settings {
	m := maps.Clone(s.values)
	if m == nil {
		m = make(map[string]any, len(o.values))
	}
	maps.Copy(m, o.values)
	return Settings{values: m}
}

// Map returns a copy of the underlying mapping.
func (s Settings) Map() map[string]any {
	return maps.Clone(s.values)
}

// Keys returns the keys in sorted order.
func (s Settings) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Equal reports whether both mappings hold the same keys and values.
func (s Settings) Equal(o Settings) bool {
	return maps.Equal(s.values, o.values)
}
