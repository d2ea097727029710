package conductor

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/conductor/script"
)

// NewScriptRouter compiles a script expression into a Router. The workflow
// state is bound to the global "state" as a plain map; the expression must
// evaluate to the name of one of the declared targets.
func NewScriptRouter(ctx context.Context, name string, compiler script.Compiler, code string, targets []string) (Router, error) {
	compiled, err := compiler.Compile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile router %q: %w", name, err)
	}
	return NewRouterFunc(name, targets, func(state *State) (string, error) {
		result, err := compiled.Evaluate(context.Background(), map[string]any{
			"state": state.ToMap(),
		})
		if err != nil {
			return "", err
		}
		return result.String(), nil
	}), nil
}
