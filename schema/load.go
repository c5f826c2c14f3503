package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load decodes a raw schema from YAML or JSON. The result is not augmented.
func Load(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	if s == nil {
		s = Schema{}
	}
	for name, e := range s {
		if e == nil {
			return nil, fmt.Errorf("schema: entity %q has no definition", name)
		}
		if e.Attributes == nil {
			e.Attributes = map[string]*AttributeDef{}
		}
	}
	return s, nil
}

// LoadFile reads and decodes a raw schema file.
func LoadFile(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Load(data)
}
