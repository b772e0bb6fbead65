// Package mcpserver exposes reputation scores as MCP tools for LLM agents.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/csking101/Sentinel-Protocol/internal/reputation"
)

// NewMCPServer creates an MCP server with the reputation tools registered.
// reader may be nil when no contract is configured.
func NewMCPServer(reader ChainReader, store reputation.LatestStore, version string) *server.MCPServer {
	s := server.NewMCPServer("sentinel", version)
	h := NewHandlers(reader, store)

	s.AddTool(ToolReputationChecker, h.HandleReputationChecker)
	s.AddTool(ToolReputationRankings, h.HandleReputationRankings)

	return s
}
