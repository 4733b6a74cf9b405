// Package mcp exposes agentflow over the Model Context Protocol so coding
// agents can validate, dry-run, and inspect flows.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with agentflow tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"agentflow",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("agentflow/validate",
			mcp.WithDescription("Validate an agentflow plan YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the flow plan YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("agentflow/run",
			mcp.WithDescription("Run an agentflow plan (defaults to dry-run mode for safety)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the flow plan YAML file")),
			mcp.WithString("project", mcp.Description("Project directory (defaults to the plan's directory)")),
			mcp.WithString("mode", mcp.Description("Execution mode: dry-run or mock")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("agentflow/status",
			mcp.WithDescription("Report checkpoint progress for a flow in a project directory"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the flow plan YAML file")),
			mcp.WithString("project", mcp.Description("Project directory (defaults to the plan's directory)")),
		),
		HandleStatus,
	)

	s.AddTool(
		mcp.NewTool("agentflow/schema",
			mcp.WithDescription("Export the flow plan JSON Schema"),
		),
		HandleSchema,
	)

	return s
}
