package conductor

// Schema is a JSON Schema document in map form.
type Schema map[string]any

// ToolMetadata describes a participant tool to the external actor: the name
// the actor must invoke, a human/LLM-readable description of the delegated
// task, and the schema the tool's result payload must match when it is
// handed back to the orchestrator as userInput.
type ToolMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema,omitempty"`
}

// ToolInvocation describes one suspend point: which participant tool the
// external actor must invoke next, with what business-level input, and
// whether the workflow is complete. Nodes construct a fresh ToolInvocation
// each time they reach a suspend point; the invocation itself is persisted
// only as part of the pending checkpoint record.
type ToolInvocation struct {
	Metadata ToolMetadata   `json:"llmMetadata"`
	Input    map[string]any `json:"input,omitempty"`
	Complete bool           `json:"isComplete,omitempty"`
}
