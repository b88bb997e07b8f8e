package resource

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Schema is the YAML form of a set of resource descriptors.
//
//	resources:
//	  - type: post
//	    table: posts
//	    associations:
//	      - name: tags
//	        kind: many_to_many
//	        target: tag
//	        join_table: post_tags
type Schema struct {
	Resources []Descriptor `yaml:"resources"`
}

// LoadSchemaFile reads and parses a YAML schema file.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseSchema parses YAML schema data.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	if len(s.Resources) == 0 {
		return nil, fmt.Errorf("%w: schema declares no resources", ErrInvalidDescriptor)
	}
	return &s, nil
}

// Registry registers every resource of the schema in a new registry.
// The registry is not sealed.
func (s *Schema) Registry() (*Registry, error) {
	r := NewRegistry()
	if err := r.RegisterAll(s.Resources); err != nil {
		return nil, err
	}
	return r, nil
}
