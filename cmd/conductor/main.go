package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/conductor"
)

// Config holds the CLI configuration. Each process invocation carries one
// orchestrator call: the workflow state lives entirely in the checkpoint
// directory between invocations.
type Config struct {
	DataDir   string
	ThreadID  string
	RequestID string
	Input     string
	List      bool
	Reset     bool
	JSON      bool
	Verbose   bool
	Timeout   time.Duration
}

func main() {
	config := parseFlags()
	logger := setupLogger(config.Verbose)

	checkpointer, err := conductor.NewFileCheckpointer(
		filepath.Join(config.DataDir, "threads"),
		conductor.WithCheckpointerLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create checkpointer: %v", err)
	}

	if config.List {
		listThreads(checkpointer)
		return
	}
	if config.Reset {
		if config.ThreadID == "" {
			color.Red("Error: -reset requires -thread")
			os.Exit(1)
		}
		if err := checkpointer.DeleteCheckpoint(context.Background(), config.ThreadID); err != nil {
			log.Fatalf("Failed to reset thread: %v", err)
		}
		color.Green("Thread %s reset", config.ThreadID)
		return
	}

	workflow, err := buildProjectSetupWorkflow()
	if err != nil {
		log.Fatalf("Failed to build workflow: %v", err)
	}

	orchestrator, err := conductor.NewOrchestrator(conductor.OrchestratorOptions{
		Workflow:     workflow,
		Checkpointer: checkpointer,
		Logger:       logger,
		Audit:        conductor.NewFileAuditLogger(filepath.Join(config.DataDir, "audit")),
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	req := &conductor.CallRequest{}
	if config.ThreadID != "" {
		req.WorkflowStateData = &conductor.WorkflowStateData{
			ThreadID:  config.ThreadID,
			RequestID: config.RequestID,
		}
	}
	if config.Input != "" {
		var input any
		if err := json.Unmarshal([]byte(config.Input), &input); err != nil {
			color.Red("Error: -input must be valid JSON: %v", err)
			os.Exit(1)
		}
		req.UserInput = input
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	resp := orchestrator.Call(ctx, req)
	printResponse(config, resp)
	if resp.Failed {
		os.Exit(1)
	}
}

func parseFlags() *Config {
	config := &Config{}
	flag.StringVar(&config.DataDir, "dir", defaultDataDir(), "Data directory for checkpoints and audit logs")
	flag.StringVar(&config.ThreadID, "thread", "", "Thread identity to resume (empty starts a new workflow)")
	flag.StringVar(&config.RequestID, "request", "", "Request identity from the prior response's workflowStateData")
	flag.StringVar(&config.Input, "input", "", "JSON user input (the prior tool's result)")
	flag.BoolVar(&config.List, "list", false, "List checkpointed threads and exit")
	flag.BoolVar(&config.Reset, "reset", false, "Delete the checkpoint for -thread and exit")
	flag.BoolVar(&config.JSON, "json", false, "Print the raw response as JSON")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable debug logging")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Second, "Per-call timeout")
	flag.Parse()
	return config
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(homeDir, ".conductor")
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return conductor.NewLogger(level)
}

func listThreads(checkpointer *conductor.FileCheckpointer) {
	summaries, err := checkpointer.ListThreads(context.Background())
	if err != nil {
		log.Fatalf("Failed to list threads: %v", err)
	}
	if len(summaries) == 0 {
		color.Yellow("No checkpointed threads")
		return
	}
	for _, summary := range summaries {
		fmt.Printf("%s  %-10s  v%-3d  %s  %s\n",
			summary.UpdatedAt.Format(time.RFC3339), summary.Status,
			summary.Version, summary.WorkflowName, summary.ThreadID)
	}
}

func printResponse(config *Config, resp *conductor.CallResponse) {
	if config.JSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal response: %v", err)
		}
		fmt.Println(string(data))
		return
	}
	switch {
	case resp.Completed:
		color.Green("Workflow completed")
		if resp.Summary != "" {
			fmt.Println(resp.Summary)
		}
	case resp.Failed:
		color.Red("Workflow failed")
		for _, message := range resp.Messages {
			fmt.Printf("  - %s\n", message)
		}
	default:
		color.Cyan("Next step")
		fmt.Println(resp.InstructionsForCaller)
		if resp.WorkflowStateData != nil {
			color.Blue("Resume with: -thread %s -request %s -input '<tool result JSON>'",
				resp.WorkflowStateData.ThreadID, resp.WorkflowStateData.RequestID)
		}
	}
}
