package script

import (
	"context"
	"fmt"
)

// Validator validates values with a compiled script expression. The value
// under validation is bound to the global "value". The expression's result
// decides the outcome:
//
//   - boolean true: the value passes unchanged
//   - boolean false: the value is rejected with the configured message
//   - a string: the value is rejected with that string as the message
//   - anything else: used as the repaired/coerced replacement value
//
// It satisfies the orchestration engine's Validator interface.
type Validator struct {
	script  Script
	message string
}

// NewValidator compiles code into a validator. message is the rejection
// text used when the expression evaluates to false.
func NewValidator(ctx context.Context, compiler Compiler, code, message string) (*Validator, error) {
	compiled, err := compiler.Compile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile validator: %w", err)
	}
	if message == "" {
		message = "value rejected by validator"
	}
	return &Validator{script: compiled, message: message}, nil
}

func (v *Validator) Validate(value any) (any, error) {
	result, err := v.script.Evaluate(context.Background(), map[string]any{"value": value})
	if err != nil {
		return nil, err
	}
	switch out := result.Value().(type) {
	case bool:
		if out {
			return value, nil
		}
		return nil, fmt.Errorf("%s", v.message)
	case string:
		return nil, fmt.Errorf("%s", out)
	default:
		return out, nil
	}
}
