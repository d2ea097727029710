package conductor

import (
	"fmt"
)

// ParticipantTool is one externally addressable workflow step: the external
// actor invokes it with a business-input shape plus the workflowStateData
// envelope, performs the delegated task, and is instructed to report the
// result back to the orchestrator on its next call. The tool itself never
// touches workflow state; the checkpoint remains the sole arbiter.
type ParticipantTool struct {
	meta      ToolMetadata
	validator *SchemaValidator
}

// ParticipantResponse carries the guidance string plus the unmodified
// session token the actor must round-trip to the orchestrator.
type ParticipantResponse struct {
	Guidance          string             `json:"guidance"`
	WorkflowStateData *WorkflowStateData `json:"workflowStateData,omitempty"`
}

// NewParticipantTool creates a participant tool from its metadata.
func NewParticipantTool(meta ToolMetadata, validator *SchemaValidator) (*ParticipantTool, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("tool name required")
	}
	if validator == nil {
		validator = NewSchemaValidator()
	}
	return &ParticipantTool{meta: meta, validator: validator}, nil
}

// Metadata returns the tool metadata advertised to the external actor.
func (t *ParticipantTool) Metadata() ToolMetadata {
	return t.meta
}

// Handle validates the business input against the tool's declared schema and
// returns guidance instructing the actor to invoke the orchestrator next.
// The stateData envelope is passed through untouched.
func (t *ParticipantTool) Handle(input map[string]any, stateData *WorkflowStateData) (*ParticipantResponse, error) {
	if err := t.validator.Validate(t.meta.InputSchema, input); err != nil {
		if verr, ok := AsValidationError(err); ok {
			verr.Tool = t.meta.Name
			return nil, verr
		}
		return nil, err
	}
	return &ParticipantResponse{
		Guidance:          renderGuidance(t.meta, stateData),
		WorkflowStateData: stateData,
	}, nil
}
