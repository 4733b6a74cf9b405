package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/agentflow/pkg/checkpoint"
	"github.com/ormasoftchile/agentflow/pkg/config"
	"github.com/ormasoftchile/agentflow/pkg/inject"
	"github.com/ormasoftchile/agentflow/pkg/providers"
	"github.com/ormasoftchile/agentflow/pkg/runtime"
	"github.com/ormasoftchile/agentflow/pkg/schema"
)

// HandleValidate implements the agentflow/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	fl, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", fl.Name, len(fl.Steps))
	if len(errs) > 0 {
		msg += "\n" + formatErrors(errs)
	}
	return textResult(msg), nil
}

// HandleRun implements the agentflow/run MCP tool. Only dry-run and mock
// modes are offered here: a real run needs a terminal for interactive
// steps and a configured backend, which an MCP client does not have.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = "dry-run"
	}

	fl, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	project, _ := args["project"].(string)
	if project == "" {
		project = filepath.Dir(path)
	}

	var backend providers.Backend
	switch mode {
	case "dry-run":
		backend = &providers.DryRunBackend{}
	case "mock":
		backend = &providers.MockBackend{}
	default:
		return errorResult(fmt.Sprintf("unknown mode %q: use dry-run or mock", mode)), nil
	}

	store, err := checkpoint.NewStore(project, fl.Name)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	timeline, err := runtime.NewTimeline(io.Discard, filepath.Join(project, "timeline.log"))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer timeline.Close()

	configFile := fl.ConfigFile
	if configFile == "" {
		configFile = schema.DefaultConfigFile
	}
	rc := &runtime.RunContext{
		ProjectDir: project,
		RunID:      runtime.NewRunID(),
		Flow:       fl,
		Backend:    backend,
		Checkpoint: store,
		Config:     config.NewStore(project, configFile),
		Resolver:   inject.NewResolver(project, timeline.Warn),
		Timeline:   timeline,
	}

	out, err := runtime.NewEngine(rc).Run(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	cp := store.Snapshot()
	summary := map[string]interface{}{
		"flow":            fl.Name,
		"mode":            mode,
		"status":          out.Status,
		"completed_steps": cp.CompletedSteps,
		"skipped_steps":   cp.SkippedSteps,
	}
	if out.Reason != "" {
		summary["reason"] = out.Reason
	}
	data, _ := json.MarshalIndent(summary, "", "  ")
	return textResult(string(data)), nil
}

// HandleStatus implements the agentflow/status MCP tool.
func HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	fl, err := schema.LoadFile(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	project, _ := args["project"].(string)
	if project == "" {
		project = filepath.Dir(path)
	}

	cp, err := checkpoint.Load(project, fl.Name)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if cp == nil {
		return textResult(fmt.Sprintf("flow %s has not been run in %s", fl.Name, project)), nil
	}

	data, _ := json.MarshalIndent(map[string]interface{}{
		"flow":            cp.Flow,
		"status":          cp.Status,
		"completed_steps": cp.CompletedSteps,
		"skipped_steps":   cp.SkippedSteps,
		"current_step":    cp.CurrentStep,
		"total_steps":     len(fl.Steps),
		"updated_at":      cp.UpdatedAt,
	}, "", "  ")
	return textResult(string(data)), nil
}

// HandleSchema implements the agentflow/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func formatErrors(errs []*schema.ValidationError) string {
	var b strings.Builder
	for _, e := range errs {
		fmt.Fprintf(&b, "%s\n", e.Error())
	}
	return strings.TrimSpace(b.String())
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(msg)},
		IsError: true,
	}
}
