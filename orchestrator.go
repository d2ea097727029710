package conductor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// WorkflowStateData is the externally visible session token. The external
// actor must round-trip it byte for byte between calls and never interpret
// or mutate it: it is opaque cargo. The request_id names the suspend point
// the next userInput answers, which is how the orchestrator tells a retried
// call apart from a stale one.
type WorkflowStateData struct {
	ThreadID            string `json:"thread_id"`
	RequestID           string `json:"request_id,omitempty"`
	ExpectedInputSchema Schema `json:"expectedInputSchema,omitempty"`
}

// CallRequest is the input of one orchestrator invocation. An absent or
// empty thread_id starts a new workflow instance; otherwise UserInput is
// fed in as the resumed value for the thread's pending suspend point.
type CallRequest struct {
	UserInput         any                `json:"userInput,omitempty"`
	WorkflowStateData *WorkflowStateData `json:"workflowStateData,omitempty"`
}

// CallResponse is the output of one orchestrator invocation: a continuation
// payload (instructions plus the token to round-trip), a terminal payload,
// or a failure payload. Exactly one of the three shapes is populated.
type CallResponse struct {
	InstructionsForCaller string             `json:"instructionsForCaller,omitempty"`
	WorkflowStateData     *WorkflowStateData `json:"workflowStateData,omitempty"`

	Completed bool   `json:"completed,omitempty"`
	Summary   string `json:"summary,omitempty"`

	Failed   bool     `json:"failed,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Workflow     *Workflow
	Checkpointer Checkpointer
	Logger       *slog.Logger
	Validator    *SchemaValidator
	Callbacks    Callbacks
	Audit        AuditLogger
	MaxSteps     int

	// Inputs seed the initial state of every fresh thread. If the first
	// call for a thread carries a map-shaped userInput, it is merged over
	// these defaults.
	Inputs map[string]any
}

// Orchestrator is the single externally addressable entry point for one
// workflow family. Each Call is stateless: the thread's checkpoint is the
// sole source of truth, and calls may arrive from a different process than
// the one that issued the prior instructions. Callers must serialize calls
// per thread; a violated expectation is caught by the checkpoint version
// check rather than corrupting state.
type Orchestrator struct {
	workflow     *Workflow
	checkpointer Checkpointer
	logger       *slog.Logger
	validator    *SchemaValidator
	callbacks    Callbacks
	audit        AuditLogger
	maxSteps     int
	inputs       map[string]any
}

// NewOrchestrator creates an orchestrator for a workflow.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewMemoryCheckpointer()
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
	return &Orchestrator{
		workflow:     opts.Workflow,
		checkpointer: opts.Checkpointer,
		logger:       opts.Logger.With("workflow", opts.Workflow.Name()),
		validator:    opts.Validator,
		callbacks:    opts.Callbacks,
		audit:        opts.Audit,
		maxSteps:     opts.MaxSteps,
		inputs:       opts.Inputs,
	}, nil
}

// Call advances one workflow instance by one step of the stateless-call
// protocol: resolve the thread identity, load or create its checkpoint,
// advance the graph until the next suspend point or a terminal node, persist
// the checkpoint, and return the caller's next-step instructions. Callers
// have no other channel to learn what went wrong, so Call never returns an
// error: every failure becomes a structured failure payload.
func (o *Orchestrator) Call(ctx context.Context, req *CallRequest) (resp *CallResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("recovered panic in orchestrator call", "panic", rec)
			resp = failureResponse(fmt.Sprintf("internal error: %v", rec))
		}
	}()
	if req == nil {
		req = &CallRequest{}
	}

	threadID := ""
	requestID := ""
	if req.WorkflowStateData != nil {
		threadID = strings.TrimSpace(req.WorkflowStateData.ThreadID)
		requestID = req.WorkflowStateData.RequestID
	}

	var checkpoint *Checkpoint
	if threadID == "" {
		threadID = NewThreadID()
		o.logger.Info("starting new thread", "thread_id", threadID)
	} else {
		loaded, err := o.checkpointer.LoadCheckpoint(ctx, threadID)
		if err != nil {
			// Per the persistence contract unreadable checkpoints mean
			// "start fresh", not "crash".
			o.logger.Warn("failed to load checkpoint, starting fresh",
				"thread_id", threadID, "error", err)
		} else {
			checkpoint = loaded
		}
	}
	logger := o.logger.With("thread_id", threadID)

	// A retried call: the caller is answering a request that has already
	// been applied. Replay the stored response instead of re-running
	// side-effecting nodes.
	if checkpoint != nil && requestID != "" && requestID == checkpoint.ConsumedRequestID {
		if digestValue(req.UserInput) == checkpoint.ConsumedDigest && len(checkpoint.LastResponse) > 0 {
			var cached CallResponse
			if err := json.Unmarshal(checkpoint.LastResponse, &cached); err == nil {
				logger.Info("replaying response for retried call", "request_id", requestID)
				return &cached
			}
		}
		return failureResponse(fmt.Sprintf(
			"request %s was already applied with different input; ask for current instructions by calling again without userInput", requestID))
	}

	// A stale token: the caller is answering neither the pending request
	// nor the last consumed one.
	if checkpoint != nil && checkpoint.Pending != nil && requestID != "" &&
		requestID != checkpoint.Pending.RequestID {
		return failureResponse(fmt.Sprintf(
			"workflowStateData is stale: thread %s is waiting on request %s", threadID, checkpoint.Pending.RequestID))
	}

	if checkpoint != nil && checkpoint.Status.Terminal() {
		if checkpoint.Status == StatusCompleted {
			summary, _ := checkpoint.State[SummaryKey].(string)
			return &CallResponse{Completed: true, Summary: summary}
		}
		messages := []string{fmt.Sprintf("workflow failed: %s", checkpoint.Error)}
		return &CallResponse{Failed: true, Messages: messages}
	}

	run, err := NewRun(RunOptions{
		Workflow:   o.workflow,
		ThreadID:   threadID,
		Checkpoint: checkpoint,
		Inputs:     o.freshInputs(checkpoint, req.UserInput),
		Logger:     o.logger,
		Validator:  o.validator,
		Callbacks:  o.callbacks,
		Audit:      o.audit,
		MaxSteps:   o.maxSteps,
	})
	if err != nil {
		logger.Error("failed to construct run", "error", err)
		return failureResponse(err.Error())
	}

	var resume *ResumeValue
	consumedRequestID := ""
	if checkpoint != nil && checkpoint.Pending != nil && req.UserInput != nil {
		consumedRequestID = checkpoint.Pending.RequestID
		resume = &ResumeValue{RequestID: consumedRequestID, Value: req.UserInput}
	}

	result, err := run.Advance(ctx, resume)
	if err != nil {
		if verr, ok := AsValidationError(err); ok {
			// The checkpoint still holds the pre-resume suspend point, so
			// a corrected retry can succeed. Only the retry counter is
			// written back.
			logger.Warn("resume value rejected", "field", verr.Field, "detail", verr.Detail)
			if run.Pending() != nil {
				o.saveBestEffort(ctx, logger, run, checkpoint)
			}
			return failureResponse(verr.Error())
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller abandoned this advance. Nothing is saved: the
			// stored checkpoint keeps the suspend point and the thread
			// stays resumable.
			logger.Warn("advance abandoned", "error", err)
			return failureResponse(err.Error())
		}
		logger.Error("workflow advance failed", "error", err)
		o.saveBestEffort(ctx, logger, run, checkpoint)
		return failureResponse(err.Error())
	}

	switch result.Status {
	case StatusSuspended:
		return o.respondSuspended(ctx, logger, run, result, threadID, consumedRequestID, req.UserInput)
	case StatusCompleted:
		// Completed threads keep a terminal checkpoint so a retried final
		// call replays the outcome instead of restarting the thread.
		// Physical removal is the explicit reset path's job.
		resp := &CallResponse{Completed: true, Summary: result.Summary}
		if failed := o.persistOutcome(ctx, logger, run, resp, consumedRequestID, req.UserInput); failed != nil {
			return failed
		}
		return resp
	default: // StatusFailed via recorded fatal errors
		o.saveBestEffort(ctx, logger, run, checkpoint)
		return failureResponse(result.FatalErrors...)
	}
}

func (o *Orchestrator) respondSuspended(ctx context.Context, logger *slog.Logger, run *Run,
	result *AdvanceResult, threadID, consumedRequestID string, userInput any) *CallResponse {

	suspension := result.Suspension
	stateData := &WorkflowStateData{
		ThreadID:            threadID,
		RequestID:           suspension.RequestID,
		ExpectedInputSchema: suspension.Invocation.Metadata.InputSchema,
	}
	resp := &CallResponse{
		InstructionsForCaller: renderContinuation(suspension.Invocation, stateData),
		WorkflowStateData:     stateData,
	}
	if failed := o.persistOutcome(ctx, logger, run, resp, consumedRequestID, userInput); failed != nil {
		return failed
	}
	return resp
}

// persistOutcome snapshots the run and writes it through the checkpointer,
// recording the consumed request and the response for retry replay. The
// checkpoint write is the only source of truth: if it fails the call must
// fail, never report an outcome that was not persisted. A non-nil return is
// the failure payload the call must surface instead of resp.
func (o *Orchestrator) persistOutcome(ctx context.Context, logger *slog.Logger, run *Run,
	resp *CallResponse, consumedRequestID string, userInput any) *CallResponse {

	cp, err := run.Checkpoint()
	if err != nil {
		logger.Error("failed to snapshot state", "error", err)
		return failureResponse(fmt.Sprintf("failed to snapshot state: %v", err))
	}
	if consumedRequestID != "" {
		cp.ConsumedRequestID = consumedRequestID
		cp.ConsumedDigest = digestValue(userInput)
		if encoded, err := json.Marshal(resp); err == nil {
			cp.LastResponse = encoded
		}
	}
	if err := o.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		var conflict *VersionConflictError
		if errors.As(err, &conflict) {
			logger.Warn("concurrent call detected", "error", conflict)
			return failureResponse(
				"a concurrent call advanced this thread first; call again with the latest workflowStateData")
		}
		logger.Error("failed to save checkpoint", "error", err)
		return failureResponse(fmt.Sprintf("failed to persist workflow state: %v", err))
	}
	return nil
}

// freshInputs builds the initial state for a fresh thread. Existing threads
// restore state from their checkpoint instead.
func (o *Orchestrator) freshInputs(checkpoint *Checkpoint, userInput any) map[string]any {
	if checkpoint != nil {
		return nil
	}
	inputs := map[string]any{}
	for k, v := range o.inputs {
		inputs[k] = v
	}
	if initial, ok := userInput.(map[string]any); ok {
		for k, v := range initial {
			inputs[k] = v
		}
	}
	return inputs
}

// saveBestEffort writes the run's checkpoint without failing the call when
// the write fails. The prior checkpoint's replay metadata is carried over so
// the last applied request can still be replayed.
func (o *Orchestrator) saveBestEffort(ctx context.Context, logger *slog.Logger, run *Run, prior *Checkpoint) {
	cp, err := run.Checkpoint()
	if err != nil {
		logger.Warn("failed to snapshot run", "error", err)
		return
	}
	if prior != nil {
		cp.ConsumedRequestID = prior.ConsumedRequestID
		cp.ConsumedDigest = prior.ConsumedDigest
		cp.LastResponse = prior.LastResponse
	}
	if err := o.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		logger.Warn("failed to save checkpoint", "error", err)
	}
}

func failureResponse(messages ...string) *CallResponse {
	if len(messages) == 0 {
		messages = []string{"workflow failed"}
	}
	return &CallResponse{Failed: true, Messages: messages}
}

// digestValue produces a stable digest of a userInput payload, used to
// recognize identical retried calls. encoding/json sorts map keys, so the
// digest is canonical for JSON-shaped values.
func digestValue(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
