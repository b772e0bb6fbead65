package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Sentinel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolReputationChecker = mcp.NewTool("reputation_checker",
	mcp.WithDescription(
		"Fetch reputation scores for crypto tokens. "+
			"Reads the reputation contract when one is configured and falls back to the latest scoring run. "+
			"Each token has Market Stability, Fundamental Strength, Risk Concentration and an overall Reputation score, all between 0 and 1."),
	mcp.WithString("token",
		mcp.Description("Token symbol to check (e.g. 'ETH'). Omit to list every scored token.")),
)

var ToolReputationRankings = mcp.NewTool("reputation_rankings",
	mcp.WithDescription(
		"Show the ranking from the latest scoring run, best reputation first. "+
			"Marks tokens scored with estimated metrics and lists tokens excluded from the run with the reason."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of ranked tokens to return (default: all)")),
)
