package conductor

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PropertyMetadata describes one property a workflow collects from the
// external actor. It is immutable configuration, not workflow state.
type PropertyMetadata struct {
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`

	// Validator optionally checks (and may coerce) a collected value.
	// Not serialized; attach programmatically after loading.
	Validator Validator `json:"-" yaml:"-"`
}

// PropertyMetadataCollection maps property names to their metadata.
type PropertyMetadataCollection map[string]PropertyMetadata

// LoadPropertiesFile reads a property metadata collection from a YAML file.
func LoadPropertiesFile(path string) (PropertyMetadataCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties file: %w", err)
	}
	var collection PropertyMetadataCollection
	if err := yaml.Unmarshal(data, &collection); err != nil {
		return nil, fmt.Errorf("failed to parse properties file %s: %w", path, err)
	}
	return collection, nil
}

// Missing returns the names of required properties not yet present in the
// state, sorted.
func (c PropertyMetadataCollection) Missing(state *State) []string {
	var missing []string
	for name, meta := range c {
		if !meta.Required {
			continue
		}
		if value, exists := state.Get(name); !exists || value == nil || value == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Validate runs each property's validator against its collected value and
// returns the (possibly coerced) values as a patch. Absent properties are
// skipped; Missing is the authority on absence.
func (c PropertyMetadataCollection) Validate(values map[string]any) (Patch, error) {
	patch := Patch{}
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, exists := values[name]
		if !exists {
			continue
		}
		meta := c[name]
		if meta.Validator != nil {
			validated, err := meta.Validator.Validate(value)
			if err != nil {
				if verr, ok := AsValidationError(err); ok {
					if verr.Field == "" {
						verr.Field = name
					}
					return nil, verr
				}
				return nil, &ValidationError{Field: name, Detail: err.Error(), Wrapped: err}
			}
			value = validated
		}
		patch[name] = value
	}
	return patch, nil
}

// InputSchema builds the JSON schema a collect-input tool advertises for
// this collection.
func (c PropertyMetadataCollection) InputSchema() Schema {
	properties := map[string]any{}
	var required []string
	for name, meta := range c {
		propType := meta.Type
		if propType == "" {
			propType = "string"
		}
		properties[name] = map[string]any{
			"type":        propType,
			"description": meta.Description,
		}
		if meta.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	schema := Schema{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// NewFulfillmentRouter returns a router that sends control to collectNode
// while required properties are missing from the state, and to nextNode once
// all of them have been collected.
func NewFulfillmentRouter(name string, properties PropertyMetadataCollection, collectNode, nextNode string) Router {
	return NewRouterFunc(name, []string{collectNode, nextNode}, func(state *State) (string, error) {
		if missing := properties.Missing(state); len(missing) > 0 {
			return collectNode, nil
		}
		return nextNode, nil
	})
}
