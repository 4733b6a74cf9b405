// Package main provides the agentflow-mcp binary, an MCP stdio server that
// lets coding agents validate, dry-run, and inspect flow plans.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	afmcp "github.com/ormasoftchile/agentflow/pkg/mcp"
)

var version = "dev"

func main() {
	s := afmcp.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
