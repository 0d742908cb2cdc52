package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML mapping of setting keys:
//
//	quick_share_button: true
//	ship_saver: false
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML mapping. Nested values are rejected: settings are
// flat by contract.
func Parse(data []byte) (Settings, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Settings{}, fmt.Errorf("settings: parse: %w", err)
	}
	return FromMap(m)
}

// FromMap is New with validation.
func FromMap(m map[string]any) (Settings, error) {
	for k, v := range m {
		if !isPrimitive(v) {
			return Settings{}, fmt.Errorf("%w: key %q got %T", ErrNotPrimitive, k, v)
		}
	}
	return New(m), nil
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, bool, string, int, int64, float64:
		return true
	}
	return false
}
