package conductor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// renderContinuation builds the human/LLM-readable instruction block for a
// non-terminal step: which participant tool to call next, with what input,
// and the session token to round-trip.
func renderContinuation(inv *ToolInvocation, stateData *WorkflowStateData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoke the %q tool next.\n", inv.Metadata.Name)
	if inv.Metadata.Description != "" {
		fmt.Fprintf(&b, "\nTask: %s\n", inv.Metadata.Description)
	}
	if len(inv.Input) > 0 {
		b.WriteString("\nTool input:\n")
		b.WriteString(jsonBlock(inv.Input))
	}
	b.WriteString("\nWhen the tool has finished, call this orchestrator again with the tool's result as userInput, and include the following workflowStateData exactly as given:\n")
	b.WriteString(jsonBlock(stateData))
	return b.String()
}

// renderGuidance builds the response text of a participant tool: do the
// delegated task, then report the result back to the orchestrator.
func renderGuidance(meta ToolMetadata, stateData *WorkflowStateData) string {
	var b strings.Builder
	if meta.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", meta.Description)
	}
	b.WriteString("When done, call the orchestrator with your result as userInput, and include the following workflowStateData exactly as given:\n")
	b.WriteString(jsonBlock(stateData))
	return b.String()
}

func jsonBlock(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%v", value))
	}
	return "```json\n" + string(data) + "\n```\n"
}
