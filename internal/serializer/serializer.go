// Package serializer converts queue entry values to and from bytes for
// producers/consumers that cross a process boundary. It is a
// contract-only external interface; the in-memory engine never calls
// it directly, since it keeps values as live Go values end to end.
package serializer

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serializer converts a value to and from its wire representation.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}

// JSON is the default serializer, backed by encoding/json.
type JSON struct{}

func (JSON) Serialize(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Deserialize(data []byte, v any) error { return json.Unmarshal(data, v) }

// YAML serializes to/from YAML (gopkg.in/yaml.v3), useful for
// human-edited dead-letter exports or config-driven test fixtures.
type YAML struct{}

func (YAML) Serialize(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializer: yaml marshal: %w", err)
	}
	return data, nil
}

func (YAML) Deserialize(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("serializer: yaml unmarshal: %w", err)
	}
	return nil
}
