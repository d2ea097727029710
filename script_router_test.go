package conductor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/conductor/script"
)

func TestScriptRouter(t *testing.T) {
	ctx := context.Background()
	engine := script.NewRisorEngine(script.DefaultGlobals())

	router, err := NewScriptRouter(ctx, "review-gate", engine,
		`state["plan_approved"] == true ? "finalize" : "generate-plan"`,
		[]string{"finalize", "generate-plan"})
	require.NoError(t, err)
	require.Equal(t, "review-gate", router.Name())
	require.Equal(t, []string{"finalize", "generate-plan"}, router.Targets())

	state := NewState()
	next, err := router.Route(state)
	require.NoError(t, err)
	require.Equal(t, "generate-plan", next)

	state.Set("plan_approved", true)
	next, err = router.Route(state)
	require.NoError(t, err)
	require.Equal(t, "finalize", next)
}

func TestScriptRouterCompileError(t *testing.T) {
	engine := script.NewRisorEngine(script.DefaultGlobals())
	_, err := NewScriptRouter(context.Background(), "broken", engine, `((`, []string{End})
	require.Error(t, err)
}

func TestScriptRouterInWorkflow(t *testing.T) {
	ctx := context.Background()
	engine := script.NewRisorEngine(script.DefaultGlobals())

	classify := NewNodeFunc("classify", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		return Patch{"tier": "premium"}, nil
	})
	premium := NewNodeFunc("premium", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		return Patch{SummaryKey: "premium path"}, nil
	})
	standard := NewNodeFunc("standard", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		return Patch{SummaryKey: "standard path"}, nil
	})
	router, err := NewScriptRouter(ctx, "tier-gate", engine,
		`state["tier"] == "premium" ? "premium" : "standard"`,
		[]string{"premium", "standard"})
	require.NoError(t, err)

	wf, err := New(Options{
		Name:  "tiered",
		Nodes: []Node{classify, premium, standard},
		Edges: []*Edge{
			{From: "classify", Router: router},
			{From: "premium", To: End},
			{From: "standard", To: End},
		},
	})
	require.NoError(t, err)

	run, err := NewRun(RunOptions{Workflow: wf, ThreadID: "thread_tiered"})
	require.NoError(t, err)
	result, err := run.Advance(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "premium path", result.Summary)
}
