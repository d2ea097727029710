package conductor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Validator validates (and may coerce or repair) an untrusted value. A node
// supplies one at a suspend point to override the default schema validation
// of the resumed value.
type Validator interface {
	Validate(value any) (any, error)
}

// ValidatorFunc is a function that can be used as a Validator.
type ValidatorFunc func(value any) (any, error)

func (f ValidatorFunc) Validate(value any) (any, error) {
	return f(value)
}

// SchemaValidator validates untyped values against JSON schemas. Compiled
// schemas are cached by their serialized form, so repeated validation
// against the same schema is cheap.
type SchemaValidator struct {
	mutex sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: map[string]*gojsonschema.Schema{},
	}
}

// Validate checks value against schema. A nil or empty schema accepts any
// value. Violations are reported as a *ValidationError naming the first
// offending field.
func (sv *SchemaValidator) Validate(schema Schema, value any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := sv.getSchema(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return &ValidationError{Detail: fmt.Sprintf("value is not JSON-serializable: %v", err)}
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(valueJSON))
	if err != nil {
		return &ValidationError{Detail: err.Error(), Wrapped: err}
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, len(result.Errors()))
	field := ""
	for i, desc := range result.Errors() {
		details[i] = desc.String()
		if field == "" {
			field = violatedField(desc)
		}
	}
	return &ValidationError{
		Field:  field,
		Detail: strings.Join(details, "; "),
	}
}

// violatedField extracts the most specific field name from a schema
// violation. Required-property violations report the missing property, not
// the parent object.
func violatedField(desc gojsonschema.ResultError) string {
	if property, ok := desc.Details()["property"].(string); ok && property != "" {
		return property
	}
	field := desc.Field()
	if field == "(root)" {
		return ""
	}
	return field
}

// getSchema retrieves or compiles a JSON schema.
func (sv *SchemaValidator) getSchema(schema Schema) (*gojsonschema.Schema, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	key := string(schemaJSON)

	sv.mutex.Lock()
	defer sv.mutex.Unlock()

	if compiled, exists := sv.cache[key]; exists {
		return compiled, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, err
	}
	sv.cache[key] = compiled
	return compiled, nil
}
