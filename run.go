package conductor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// SummaryKey is the state field a workflow may set to describe its outcome;
// it becomes the summary of the terminal orchestrator response.
const SummaryKey = "summary"

// DefaultMaxSteps bounds the number of node executions in a single advance,
// guarding against router cycles.
const DefaultMaxSteps = 100

// RunOptions configures a Run.
type RunOptions struct {
	Workflow   *Workflow
	ThreadID   string
	Checkpoint *Checkpoint    // restore point; nil starts fresh
	Inputs     map[string]any // initial state for fresh runs
	Logger     *slog.Logger
	Validator  *SchemaValidator
	Callbacks  Callbacks
	Audit      AuditLogger
	MaxSteps   int
}

// Run is one in-memory incarnation of a workflow instance. It is
// reconstructed from a checkpoint on every orchestrator call, advanced until
// the next suspend point or a terminal node, then snapshotted back into a
// checkpoint. A Run is single-threaded and cooperative: it never does
// background work between advances.
type Run struct {
	workflow  *Workflow
	threadID  string
	state     *State
	status    Status
	node      string
	pending   *PendingInvocation
	runErr    string
	version   int64
	startTime time.Time
	endTime   time.Time

	logger    *slog.Logger
	validator *SchemaValidator
	callbacks Callbacks
	audit     AuditLogger
	maxSteps  int
}

// AdvanceResult describes where an advance stopped.
type AdvanceResult struct {
	Status      Status
	Suspension  *Suspension
	FatalErrors []string
	Summary     string
}

// NewRun creates a run for a workflow instance, either fresh or restored
// from a checkpoint.
func NewRun(opts RunOptions) (*Run, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if opts.ThreadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Validator == nil {
		opts.Validator = NewSchemaValidator()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseCallbacks{}
	}
	if opts.Audit == nil {
		opts.Audit = NewNullAuditLogger()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}

	run := &Run{
		workflow:  opts.Workflow,
		threadID:  opts.ThreadID,
		logger:    opts.Logger.With("thread_id", opts.ThreadID, "workflow", opts.Workflow.Name()),
		validator: opts.Validator,
		callbacks: opts.Callbacks,
		audit:     opts.Audit,
		maxSteps:  opts.MaxSteps,
	}

	if cp := opts.Checkpoint; cp != nil {
		if cp.WorkflowName != opts.Workflow.Name() {
			return nil, NewProgrammingError("checkpoint belongs to workflow %q, not %q",
				cp.WorkflowName, opts.Workflow.Name())
		}
		run.state = NewStateFromMap(cp.State)
		run.status = cp.Status
		run.node = cp.Node
		run.pending = cp.Pending
		run.version = cp.Version
		run.startTime = cp.StartTime
		run.endTime = cp.EndTime
		run.runErr = cp.Error
		if run.node == "" {
			run.node = opts.Workflow.Start()
		}
	} else {
		run.state = NewStateFromMap(opts.Inputs)
		run.status = StatusPending
		run.node = opts.Workflow.Start()
	}
	return run, nil
}

// State returns the run's canonical state.
func (r *Run) State() *State {
	return r.state
}

// Status returns the run's current status.
func (r *Run) Status() Status {
	return r.status
}

// Pending returns the suspend point the run is paused at, if any.
func (r *Run) Pending() *PendingInvocation {
	return r.pending
}

// Advance executes nodes sequentially until the workflow suspends, reaches
// End, or fails. If the run is suspended, resume carries the external
// actor's response for the pending suspend point; a nil resume re-emits the
// pending invocation without executing anything.
//
// A *ValidationError return means the resumed value was rejected and a
// context error means the advance was abandoned; in both cases the thread
// can be resumed again from its stored checkpoint. Any other error return
// leaves the run failed.
func (r *Run) Advance(ctx context.Context, resume *ResumeValue) (*AdvanceResult, error) {
	if r.status.Terminal() {
		return nil, NewProgrammingError("advance called on %s thread %q", r.status, r.threadID)
	}

	advanceStart := time.Now()
	advanceEvent := &AdvanceEvent{
		ThreadID:     r.threadID,
		WorkflowName: r.workflow.Name(),
		Status:       r.status,
		StartTime:    advanceStart,
	}
	r.callbacks.BeforeAdvance(ctx, advanceEvent)
	result, err := r.advance(ctx, resume)
	advanceEvent.EndTime = time.Now()
	advanceEvent.Duration = advanceEvent.EndTime.Sub(advanceStart)
	advanceEvent.Status = r.status
	advanceEvent.Error = err
	r.callbacks.AfterAdvance(ctx, advanceEvent)
	return result, err
}

func (r *Run) advance(ctx context.Context, resume *ResumeValue) (*AdvanceResult, error) {
	if r.pending != nil {
		if resume == nil {
			// Nothing to apply: re-emit the pending invocation so the
			// caller gets its instructions again.
			return &AdvanceResult{
				Status: StatusSuspended,
				Suspension: &Suspension{
					RequestID:  r.pending.RequestID,
					Node:       r.pending.Node,
					Invocation: r.pending.Invocation,
				},
			}, nil
		}
		if resume.RequestID != r.pending.RequestID {
			return nil, &ValidationError{Detail: fmt.Sprintf(
				"resume answers request %q but thread is waiting on %q",
				resume.RequestID, r.pending.RequestID)}
		}
	} else if resume != nil {
		return nil, &ValidationError{Detail: "thread is not suspended; unexpected user input"}
	}

	r.status = StatusRunning
	if r.startTime.IsZero() {
		r.startTime = time.Now()
	}

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			// An abandoned advance is not a workflow failure: the stored
			// checkpoint keeps the prior suspend point and the thread stays
			// resumable.
			return nil, fmt.Errorf("advance canceled: %w", err)
		}
		if steps >= r.maxSteps {
			return nil, NewProgrammingError("workflow %q exceeded %d steps in one advance",
				r.workflow.Name(), r.maxSteps)
		}
		if r.node == End {
			return r.complete()
		}

		node, exists := r.workflow.Node(r.node)
		if !exists {
			return nil, NewProgrammingError("workflow %q has no node %q", r.workflow.Name(), r.node)
		}

		nc := &NodeContext{
			node:      r.node,
			threadID:  r.threadID,
			logger:    r.logger.With("node", r.node),
			validator: r.validator,
		}
		if r.pending != nil && r.pending.Node == r.node {
			nc.resume = resume
			nc.requestID = r.pending.RequestID
		}

		nodeStart := time.Now()
		nodeEvent := &NodeEvent{
			ThreadID:     r.threadID,
			WorkflowName: r.workflow.Name(),
			Node:         r.node,
			StartTime:    nodeStart,
		}
		r.callbacks.BeforeNode(ctx, nodeEvent)

		patch, err := node.Execute(ctx, nc, r.state)

		nodeEvent.EndTime = time.Now()
		nodeEvent.Duration = nodeEvent.EndTime.Sub(nodeStart)
		nodeEvent.Patch = patch
		nodeEvent.Error = err

		if suspension, ok := AsSuspension(err); ok {
			r.state.Apply(patch)
			r.pending = &PendingInvocation{
				RequestID:  suspension.RequestID,
				Node:       suspension.Node,
				Invocation: suspension.Invocation,
			}
			r.node = suspension.Node
			r.status = StatusSuspended
			nodeEvent.Suspended = true
			nodeEvent.Error = nil
			r.callbacks.AfterNode(ctx, nodeEvent)
			r.logAudit(ctx, nodeEvent, suspension.RequestID)
			r.logger.Info("workflow suspended",
				"node", r.node, "tool", suspension.Invocation.Metadata.Name)
			return &AdvanceResult{Status: StatusSuspended, Suspension: suspension}, nil
		}
		if err != nil {
			r.callbacks.AfterNode(ctx, nodeEvent)
			r.logAudit(ctx, nodeEvent, "")
			if _, ok := AsValidationError(err); ok {
				// Rejected resume value. The suspend point is untouched, so
				// a corrected retry can succeed; only the retry counter
				// advances.
				if r.pending != nil {
					r.state.Set(RetryCountKey, r.state.RetryCount()+1)
					r.status = StatusSuspended
				}
				return nil, err
			}
			if ferr, ok := AsFatalError(err); ok {
				r.state.Apply(FatalErrorPatch(r.state, ferr.Message))
			} else {
				return r.fail(err)
			}
		} else {
			r.state.Apply(patch)
			r.callbacks.AfterNode(ctx, nodeEvent)
			r.logAudit(ctx, nodeEvent, "")
		}

		// A successfully executed pending node consumed its resume value,
		// and with it any validation retries against that suspend point.
		if r.pending != nil && r.pending.Node == r.node {
			r.pending = nil
			resume = nil
			if r.state.RetryCount() > 0 {
				r.state.Set(RetryCountKey, 0)
			}
		}

		if messages := r.state.FatalErrors(); len(messages) > 0 {
			failureNode := r.workflow.FailureNode()
			if failureNode == "" || r.node == failureNode {
				return r.failWorkflow(messages)
			}
			r.logger.Warn("routing to failure node", "from", r.node, "messages", messages)
			r.node = failureNode
			continue
		}

		next, err := r.nextNode(r.node)
		if err != nil {
			return nil, err
		}
		r.node = next
	}
}

// nextNode resolves the outgoing edge of a node, consulting its router for
// conditional edges. Router results outside the declared targets are
// programming errors.
func (r *Run) nextNode(from string) (string, error) {
	edge, exists := r.workflow.Edge(from)
	if !exists {
		return "", NewProgrammingError("node %q has no outgoing edge", from)
	}
	if edge.Router == nil {
		return edge.To, nil
	}
	next, err := edge.Router.Route(r.state)
	if err != nil {
		return "", NewProgrammingError("router %q failed: %v", edge.Router.Name(), err)
	}
	for _, target := range edge.Router.Targets() {
		if next == target {
			return next, nil
		}
	}
	return "", NewProgrammingError("router %q returned undeclared target %q",
		edge.Router.Name(), next)
}

func (r *Run) complete() (*AdvanceResult, error) {
	r.status = StatusCompleted
	r.endTime = time.Now()
	summary, _ := r.state.GetString(SummaryKey)
	r.logger.Info("workflow completed", "summary", summary)
	return &AdvanceResult{Status: StatusCompleted, Summary: summary}, nil
}

func (r *Run) failWorkflow(messages []string) (*AdvanceResult, error) {
	r.status = StatusFailed
	r.endTime = time.Now()
	if len(messages) > 0 {
		r.runErr = messages[0]
	}
	r.logger.Warn("workflow failed", "messages", messages)
	return &AdvanceResult{Status: StatusFailed, FatalErrors: messages}, nil
}

func (r *Run) fail(err error) (*AdvanceResult, error) {
	r.status = StatusFailed
	r.endTime = time.Now()
	r.runErr = err.Error()
	r.logger.Error("workflow advance failed", "error", err)
	return &AdvanceResult{Status: StatusFailed, FatalErrors: []string{err.Error()}}, err
}

func (r *Run) logAudit(ctx context.Context, event *NodeEvent, requestID string) {
	entry := &AuditEntry{
		ThreadID:     event.ThreadID,
		WorkflowName: event.WorkflowName,
		Node:         event.Node,
		Patch:        event.Patch,
		Suspended:    event.Suspended,
		RequestID:    requestID,
		StartTime:    event.StartTime,
		Duration:     event.Duration.Seconds(),
	}
	if event.Error != nil {
		entry.Error = event.Error.Error()
	}
	if err := r.audit.LogNode(ctx, entry); err != nil {
		r.logger.Warn("failed to write audit entry", "error", err)
	}
}

// Checkpoint snapshots the run for persistence. The returned checkpoint's
// version is one greater than the version the run was restored from.
func (r *Run) Checkpoint() (*Checkpoint, error) {
	snapshot, err := r.state.Snapshot()
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		ThreadID:     r.threadID,
		WorkflowName: r.workflow.Name(),
		Status:       r.status,
		State:        snapshot,
		Node:         r.node,
		Pending:      r.pending,
		Version:      r.version + 1,
		Error:        r.runErr,
		StartTime:    r.startTime,
		EndTime:      r.endTime,
		UpdatedAt:    time.Now(),
	}, nil
}
