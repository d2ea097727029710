package conductor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// interviewWorkflow suspends twice: once to collect a name, once to collect
// a favorite color.
func interviewWorkflow(t *testing.T) *Workflow {
	t.Helper()
	askName := NewNodeFunc("ask-name", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		if _, exists := state.Get("name"); exists {
			return Patch{}, nil
		}
		result, err := nc.Suspend(&ToolInvocation{
			Metadata: ToolMetadata{
				Name:        "collect_name",
				Description: "Ask for the user's name.",
				InputSchema: Schema{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
					},
					"required": []string{"name"},
				},
			},
		})
		if err != nil {
			return nil, err
		}
		return Patch{"name": result.(map[string]any)["name"]}, nil
	})
	askColor := NewNodeFunc("ask-color", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		if _, exists := state.Get("color"); exists {
			return Patch{}, nil
		}
		result, err := nc.Suspend(&ToolInvocation{
			Metadata: ToolMetadata{
				Name:        "collect_color",
				Description: "Ask for the user's favorite color.",
				InputSchema: Schema{
					"type": "object",
					"properties": map[string]any{
						"color": map[string]any{"type": "string"},
					},
					"required": []string{"color"},
				},
			},
		})
		if err != nil {
			return nil, err
		}
		return Patch{"color": result.(map[string]any)["color"]}, nil
	})
	finish := NewNodeFunc("finish", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		name, _ := state.GetString("name")
		color, _ := state.GetString("color")
		return Patch{SummaryKey: name + " likes " + color}, nil
	})
	wf, err := New(Options{
		Name:  "interview",
		Nodes: []Node{askName, askColor, finish},
		Edges: []*Edge{
			{From: "ask-name", To: "ask-color"},
			{From: "ask-color", To: "finish"},
			{From: "finish", To: End},
		},
	})
	require.NoError(t, err)
	return wf
}

func newTestOrchestrator(t *testing.T, wf *Workflow) (*Orchestrator, *MemoryCheckpointer) {
	t.Helper()
	store := NewMemoryCheckpointer()
	orch, err := NewOrchestrator(OrchestratorOptions{
		Workflow:     wf,
		Checkpointer: store,
	})
	require.NoError(t, err)
	return orch, store
}

func TestOrchestratorFreshCall(t *testing.T) {
	orch, store := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp := orch.Call(ctx, &CallRequest{})
	require.False(t, resp.Completed)
	require.False(t, resp.Failed)
	require.NotNil(t, resp.WorkflowStateData)
	require.NotEmpty(t, resp.WorkflowStateData.ThreadID)
	require.NotEmpty(t, resp.WorkflowStateData.RequestID)
	require.NotEmpty(t, resp.WorkflowStateData.ExpectedInputSchema)
	require.Contains(t, resp.InstructionsForCaller, "collect_name")
	require.Contains(t, resp.InstructionsForCaller, resp.WorkflowStateData.ThreadID)

	cp, err := store.LoadCheckpoint(ctx, resp.WorkflowStateData.ThreadID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, StatusSuspended, cp.Status)
	require.Equal(t, int64(1), cp.Version)
}

func TestOrchestratorFreshCallsGetDistinctThreads(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	first := orch.Call(ctx, &CallRequest{})
	second := orch.Call(ctx, nil)
	require.NotEqual(t, first.WorkflowStateData.ThreadID, second.WorkflowStateData.ThreadID)
}

func TestOrchestratorFullConversation(t *testing.T) {
	orch, store := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp1 := orch.Call(ctx, &CallRequest{})
	require.NotNil(t, resp1.WorkflowStateData)
	threadID := resp1.WorkflowStateData.ThreadID

	resp2 := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.False(t, resp2.Failed)
	require.False(t, resp2.Completed)
	require.Contains(t, resp2.InstructionsForCaller, "collect_color")
	require.Equal(t, threadID, resp2.WorkflowStateData.ThreadID)
	require.NotEqual(t, resp1.WorkflowStateData.RequestID, resp2.WorkflowStateData.RequestID)

	resp3 := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"color": "teal"},
		WorkflowStateData: resp2.WorkflowStateData,
	})
	require.True(t, resp3.Completed)
	require.Equal(t, "ada likes teal", resp3.Summary)

	// Completed threads keep a terminal checkpoint so later calls replay
	// the outcome instead of restarting the thread.
	cp, err := store.LoadCheckpoint(ctx, threadID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, cp.Status)
	require.Nil(t, cp.Pending)

	again := orch.Call(ctx, &CallRequest{WorkflowStateData: &WorkflowStateData{ThreadID: threadID}})
	require.True(t, again.Completed)
	require.Equal(t, "ada likes teal", again.Summary)
}

func TestOrchestratorReplaysCompletedFinalCall(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()
	resp1 := orch.Call(ctx, &CallRequest{})
	resp2 := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	final := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"color": "teal"},
		WorkflowStateData: resp2.WorkflowStateData,
	})
	require.True(t, final.Completed)

	// An identical retry of the final call replays the completion rather
	// than starting a fresh run under the same thread.
	retried := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"color": "teal"},
		WorkflowStateData: resp2.WorkflowStateData,
	})
	require.False(t, retried.Failed)
	require.True(t, retried.Completed)
	require.Equal(t, final.Summary, retried.Summary)
	require.Empty(t, retried.InstructionsForCaller)
}

func TestOrchestratorReemitsInstructionsWithoutInput(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp1 := orch.Call(ctx, &CallRequest{})
	again := orch.Call(ctx, &CallRequest{
		WorkflowStateData: &WorkflowStateData{ThreadID: resp1.WorkflowStateData.ThreadID},
	})
	require.False(t, again.Failed)
	require.Equal(t, resp1.WorkflowStateData.RequestID, again.WorkflowStateData.RequestID)
	require.Contains(t, again.InstructionsForCaller, "collect_name")
}

func TestOrchestratorReplaysRetriedCall(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp1 := orch.Call(ctx, &CallRequest{})
	resp2 := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.False(t, resp2.Failed)

	// The network ate the response; the caller retries the same call.
	retried := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.False(t, retried.Failed)
	require.Equal(t, resp2.InstructionsForCaller, retried.InstructionsForCaller)
	require.Equal(t, resp2.WorkflowStateData.ThreadID, retried.WorkflowStateData.ThreadID)
	require.Equal(t, resp2.WorkflowStateData.RequestID, retried.WorkflowStateData.RequestID)
}

func TestOrchestratorRejectsConsumedRequestWithDifferentInput(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp1 := orch.Call(ctx, &CallRequest{})
	resp2 := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.False(t, resp2.Failed)

	conflicting := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "grace"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.True(t, conflicting.Failed)
	require.Contains(t, conflicting.Messages[0], "already applied with different input")
}

func TestOrchestratorRejectsStaleStateData(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp1 := orch.Call(ctx, &CallRequest{})
	stale := orch.Call(ctx, &CallRequest{
		UserInput: map[string]any{"name": "ada"},
		WorkflowStateData: &WorkflowStateData{
			ThreadID:  resp1.WorkflowStateData.ThreadID,
			RequestID: "req_fabricated",
		},
	})
	require.True(t, stale.Failed)
	require.Contains(t, stale.Messages[0], "stale")
}

func TestOrchestratorValidationFailureIsRetryable(t *testing.T) {
	orch, store := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp1 := orch.Call(ctx, &CallRequest{})
	threadID := resp1.WorkflowStateData.ThreadID

	rejected := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": 42},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.True(t, rejected.Failed)
	require.Contains(t, rejected.Messages[0], "name")

	// The thread still waits on the same request, still suspended, with
	// the failed attempt counted.
	cp, err := store.LoadCheckpoint(ctx, threadID)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, cp.Status)
	require.Equal(t, resp1.WorkflowStateData.RequestID, cp.Pending.RequestID)
	require.Equal(t, 1, NewStateFromMap(cp.State).RetryCount())

	corrected := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.False(t, corrected.Failed)
	require.Contains(t, corrected.InstructionsForCaller, "collect_color")

	// Consuming the corrected value clears the retry counter.
	cp, err = store.LoadCheckpoint(ctx, threadID)
	require.NoError(t, err)
	require.Equal(t, 0, NewStateFromMap(cp.State).RetryCount())
}

func TestOrchestratorSeedsFreshState(t *testing.T) {
	seen := map[string]any{}
	capture := NewNodeFunc("capture", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		seen = state.ToMap()
		return Patch{SummaryKey: "done"}, nil
	})
	wf, err := New(Options{
		Name:  "seeded",
		Nodes: []Node{capture},
		Edges: []*Edge{{From: "capture", To: End}},
	})
	require.NoError(t, err)

	orch, err := NewOrchestrator(OrchestratorOptions{
		Workflow: wf,
		Inputs:   map[string]any{"region": "eu-west-1", "tier": "standard"},
	})
	require.NoError(t, err)

	resp := orch.Call(context.Background(), &CallRequest{
		UserInput: map[string]any{"tier": "premium"},
	})
	require.True(t, resp.Completed)
	require.Equal(t, "eu-west-1", seen["region"])
	require.Equal(t, "premium", seen["tier"])
}

func TestOrchestratorTerminalFailedThread(t *testing.T) {
	doomed := NewNodeFunc("doomed", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		return nil, NewFatalError("out of quota")
	})
	wf, err := New(Options{
		Name:  "doomed",
		Nodes: []Node{doomed},
		Edges: []*Edge{{From: "doomed", To: End}},
	})
	require.NoError(t, err)
	orch, store := newTestOrchestrator(t, wf)
	ctx := context.Background()

	resp := orch.Call(ctx, &CallRequest{})
	require.True(t, resp.Failed)
	require.Contains(t, resp.Messages[0], "out of quota")

	// The failed terminal state was persisted; asking again reports the
	// same failure without re-running the workflow.
	threadIDs, err := store.listForTest()
	require.NoError(t, err)
	require.Len(t, threadIDs, 1)
	threadID := threadIDs[0]

	again := orch.Call(ctx, &CallRequest{
		WorkflowStateData: &WorkflowStateData{ThreadID: threadID},
	})
	require.True(t, again.Failed)
	require.Contains(t, again.Messages[0], "out of quota")
}

func TestOrchestratorCanceledCallLeavesThreadResumable(t *testing.T) {
	orch, store := newTestOrchestrator(t, interviewWorkflow(t))
	ctx := context.Background()

	resp1 := orch.Call(ctx, &CallRequest{})
	threadID := resp1.WorkflowStateData.ThreadID

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	abandoned := orch.Call(canceled, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.True(t, abandoned.Failed)
	require.Contains(t, abandoned.Messages[0], "canceled")

	// The call was abandoned, not failed: the checkpoint keeps the suspend
	// point and a clean retry of the same resume succeeds.
	cp, err := store.LoadCheckpoint(ctx, threadID)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, cp.Status)
	require.Equal(t, resp1.WorkflowStateData.RequestID, cp.Pending.RequestID)
	require.Equal(t, int64(1), cp.Version)

	retried := orch.Call(ctx, &CallRequest{
		UserInput:         map[string]any{"name": "ada"},
		WorkflowStateData: resp1.WorkflowStateData,
	})
	require.False(t, retried.Failed)
	require.Contains(t, retried.InstructionsForCaller, "collect_color")
}

func TestOrchestratorRecoversFromPanic(t *testing.T) {
	panicky := NewNodeFunc("panicky", func(ctx context.Context, nc *NodeContext, state *State) (Patch, error) {
		panic("node exploded")
	})
	wf, err := New(Options{
		Name:  "panicky",
		Nodes: []Node{panicky},
		Edges: []*Edge{{From: "panicky", To: End}},
	})
	require.NoError(t, err)
	orch, _ := newTestOrchestrator(t, wf)

	resp := orch.Call(context.Background(), &CallRequest{})
	require.True(t, resp.Failed)
	require.Contains(t, resp.Messages[0], "node exploded")
}

type conflictingCheckpointer struct {
	*MemoryCheckpointer
}

func (c *conflictingCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	return &VersionConflictError{
		ThreadID: checkpoint.ThreadID,
		Expected: checkpoint.Version + 1,
		Found:    checkpoint.Version,
	}
}

func TestOrchestratorReportsConcurrentCalls(t *testing.T) {
	wf := interviewWorkflow(t)
	orch, err := NewOrchestrator(OrchestratorOptions{
		Workflow:     wf,
		Checkpointer: &conflictingCheckpointer{NewMemoryCheckpointer()},
	})
	require.NoError(t, err)

	resp := orch.Call(context.Background(), &CallRequest{})
	require.True(t, resp.Failed)
	require.Contains(t, resp.Messages[0], "concurrent call")
}

// listForTest exposes the stored thread ids.
func (c *MemoryCheckpointer) listForTest() ([]string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var ids []string
	for id := range c.checkpoints {
		ids = append(ids, id)
	}
	return ids, nil
}
