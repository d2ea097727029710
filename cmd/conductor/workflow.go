package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/conductor"
	"github.com/deepnoodle-ai/conductor/script"
)

// projectProperties are the fields the workflow collects from the caller
// before it can draft a project plan.
func projectProperties() (conductor.PropertyMetadataCollection, error) {
	engine := script.NewRisorEngine(script.DefaultGlobals())
	nameValidator, err := script.NewValidator(context.Background(), engine,
		`len(value) >= 3`,
		"project_name must be at least 3 characters")
	if err != nil {
		return nil, err
	}
	return conductor.PropertyMetadataCollection{
		"project_name": {
			Description: "Short name for the project",
			Required:    true,
			Validator:   nameValidator,
		},
		"platform": {
			Description: "Deployment platform (e.g. kubernetes, fly, bare-metal)",
			Required:    true,
		},
		"description": {
			Description: "Optional one-paragraph project description",
		},
	}, nil
}

// buildProjectSetupWorkflow assembles the demo workflow: collect the project
// properties (suspending until the caller supplies them), draft a plan,
// suspend for review, and loop until the reviewer approves.
func buildProjectSetupWorkflow() (*conductor.Workflow, error) {
	properties, err := projectProperties()
	if err != nil {
		return nil, err
	}

	intake := conductor.NewNodeFunc("intake",
		func(ctx context.Context, nc *conductor.NodeContext, state *conductor.State) (conductor.Patch, error) {
			if _, exists := state.Get("requested_at"); exists {
				return conductor.Patch{}, nil
			}
			return conductor.Patch{"requested_at": time.Now().Format(time.RFC3339)}, nil
		})

	collectInput := conductor.NewNodeFunc("collect-input",
		func(ctx context.Context, nc *conductor.NodeContext, state *conductor.State) (conductor.Patch, error) {
			result, err := nc.Suspend(&conductor.ToolInvocation{
				Metadata: conductor.ToolMetadata{
					Name:        "collect_project_properties",
					Description: "Ask the user for the project properties listed in the schema and return their answers.",
					InputSchema: properties.InputSchema(),
				},
				Input: map[string]any{"missing": properties.Missing(state)},
			})
			if err != nil {
				return nil, err
			}
			values, ok := result.(map[string]any)
			if !ok {
				return nil, conductor.NewValidationError("", "expected an object of property values")
			}
			return properties.Validate(values)
		})

	generatePlan := conductor.NewNodeFunc("generate-plan",
		func(ctx context.Context, nc *conductor.NodeContext, state *conductor.State) (conductor.Patch, error) {
			// Re-executed from the top after every resume; skip if the
			// current plan is still present.
			if plan, _ := state.GetString("plan"); plan != "" {
				return conductor.Patch{}, nil
			}
			name, _ := state.GetString("project_name")
			platform, _ := state.GetString("platform")
			var b strings.Builder
			fmt.Fprintf(&b, "Plan for %s on %s:\n", name, platform)
			fmt.Fprintf(&b, "1. Provision %s environment\n", platform)
			fmt.Fprintf(&b, "2. Scaffold %s repository and CI\n", name)
			fmt.Fprintf(&b, "3. Deploy initial release\n")
			if notes, _ := state.GetString("review_notes"); notes != "" {
				fmt.Fprintf(&b, "Revisions requested: %s\n", notes)
			}
			nc.Logger().Info("drafted project plan")
			return conductor.Patch{"plan": b.String()}, nil
		})

	reviewPlan := conductor.NewNodeFunc("review-plan",
		func(ctx context.Context, nc *conductor.NodeContext, state *conductor.State) (conductor.Patch, error) {
			plan, _ := state.GetString("plan")
			result, err := nc.Suspend(&conductor.ToolInvocation{
				Metadata: conductor.ToolMetadata{
					Name:        "review_project_plan",
					Description: "Present the plan to the user for approval. Return approved=true to accept, or approved=false with notes describing the requested changes.",
					InputSchema: conductor.Schema{
						"type": "object",
						"properties": map[string]any{
							"approved": map[string]any{"type": "boolean"},
							"notes":    map[string]any{"type": "string"},
						},
						"required": []string{"approved"},
					},
				},
				Input: map[string]any{"plan": plan},
			})
			if err != nil {
				return nil, err
			}
			review, ok := result.(map[string]any)
			if !ok {
				return nil, conductor.NewValidationError("", "expected a review object")
			}
			approved, _ := review["approved"].(bool)
			notes, _ := review["notes"].(string)
			patch := conductor.Patch{"plan_approved": approved, "review_notes": notes}
			if !approved {
				// Clear the plan so generate-plan drafts a revision.
				patch["plan"] = ""
			}
			return patch, nil
		})

	finalize := conductor.NewNodeFunc("finalize",
		func(ctx context.Context, nc *conductor.NodeContext, state *conductor.State) (conductor.Patch, error) {
			name, _ := state.GetString("project_name")
			plan, _ := state.GetString("plan")
			return conductor.Patch{
				conductor.SummaryKey: fmt.Sprintf("Project %s is set up.\n\n%s", name, plan),
			}, nil
		})

	reportFailure := conductor.NewNodeFunc("report-failure",
		func(ctx context.Context, nc *conductor.NodeContext, state *conductor.State) (conductor.Patch, error) {
			messages := state.FatalErrors()
			nc.Logger().Error("project setup failed", "errors", messages)
			return conductor.Patch{
				conductor.SummaryKey: fmt.Sprintf("Project setup failed: %s", strings.Join(messages, "; ")),
			}, nil
		})

	reviewGate := conductor.NewRouterFunc("review-gate",
		[]string{"finalize", "generate-plan"},
		func(state *conductor.State) (string, error) {
			if approved, exists := state.Get("plan_approved"); exists && approved == true {
				return "finalize", nil
			}
			return "generate-plan", nil
		})

	return conductor.New(conductor.Options{
		Name:        "project-setup",
		Description: "Collects project properties, drafts a plan and iterates until the reviewer approves it.",
		Start:       "intake",
		FailureNode: "report-failure",
		Nodes: []conductor.Node{
			intake, collectInput, generatePlan, reviewPlan, finalize, reportFailure,
		},
		Edges: []*conductor.Edge{
			{From: "intake", Router: conductor.NewFulfillmentRouter(
				"intake-gate", properties, "collect-input", "generate-plan")},
			{From: "collect-input", Router: conductor.NewFulfillmentRouter(
				"collect-gate", properties, "collect-input", "generate-plan")},
			{From: "generate-plan", To: "review-plan"},
			{From: "review-plan", Router: reviewGate},
			{From: "finalize", To: conductor.End},
			{From: "report-failure", To: conductor.End},
		},
	})
}
