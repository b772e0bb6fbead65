package mcpserver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csking101/Sentinel-Protocol/internal/chain"
	"github.com/csking101/Sentinel-Protocol/internal/reputation"
)

// --- Test helpers ---

type fakeChain struct {
	scores []chain.Scores
	err    error
	calls  []string
}

func (f *fakeChain) ReadAll(context.Context) ([]chain.Scores, error) {
	f.calls = append(f.calls, "ReadAll")
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func (f *fakeChain) ScoresOf(_ context.Context, token string) (chain.Scores, error) {
	f.calls = append(f.calls, "ScoresOf:"+token)
	if f.err != nil {
		return chain.Scores{}, f.err
	}
	for _, s := range f.scores {
		if s.Token == token {
			return s, nil
		}
	}
	return chain.Scores{}, errors.New("execution reverted")
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func testReport() *reputation.Report {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &reputation.Report{
		RunID:      "run-42",
		FinishedAt: ts,
		Scores: []reputation.ScoreRow{
			{Rank: 1, Symbol: "ETH", MarketStability: 0.8, FundamentalStrength: 0.9, RiskConcentration: 0.7, ReputationScore: 0.82, Timestamp: ts},
			{Rank: 2, Symbol: "AAVE", MarketStability: 0.5, FundamentalStrength: 0.6, RiskConcentration: 0.4, ReputationScore: 0.51, Timestamp: ts,
				Imputed: []reputation.Column{reputation.HolderConcentration}},
		},
		Outcomes: []reputation.AssetOutcome{
			{Symbol: "ETH", Status: reputation.StatusScored},
			{Symbol: "AAVE", Status: reputation.StatusScored, Imputed: []reputation.Column{reputation.HolderConcentration}},
			{Symbol: "DOGE", Status: reputation.StatusExcluded, Reason: "market and metadata unavailable"},
		},
	}
}

func storeWith(t *testing.T, r *reputation.Report) *reputation.MemoryStore {
	t.Helper()
	store := reputation.NewMemoryStore()
	if r != nil {
		require.NoError(t, store.Save(context.Background(), r))
	}
	return store
}

// ============================================================
// reputation_checker
// ============================================================

func TestReputationChecker_AllTokensOnChain(t *testing.T) {
	fc := &fakeChain{scores: []chain.Scores{
		{Token: "ETH", Market: 0.4, Fundamental: 0.35, Risk: 1, Reputation: 0.47},
		{Token: "AAVE", Market: 0.1, Fundamental: 0.2, Risk: 0.3, Reputation: 0.25},
	}}
	h := NewHandlers(fc, storeWith(t, testReport()))

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ETH → Market: 0.40, Fundamental: 0.35, Risk: 1.00, Reputation: 0.47", lines[0])
	assert.Equal(t, "AAVE → Market: 0.10, Fundamental: 0.20, Risk: 0.30, Reputation: 0.25", lines[1])
	assert.Equal(t, []string{"ReadAll"}, fc.calls)
}

func TestReputationChecker_SingleTokenOnChain(t *testing.T) {
	fc := &fakeChain{scores: []chain.Scores{{Token: "ETH", Market: 0.4, Fundamental: 0.35, Risk: 1, Reputation: 0.47}}}
	h := NewHandlers(fc, nil)

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(map[string]any{"token": " eth "}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "ETH → Market: 0.40, Fundamental: 0.35, Risk: 1.00, Reputation: 0.47", resultText(t, result))
	assert.Equal(t, []string{"ScoresOf:ETH"}, fc.calls)
}

func TestReputationChecker_EmptyContract(t *testing.T) {
	h := NewHandlers(&fakeChain{}, nil)

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "No tokens found on the contract.", resultText(t, result))
}

func TestReputationChecker_FallsBackToLatestRun(t *testing.T) {
	h := NewHandlers(&fakeChain{err: errors.New("dial tcp: connection refused")}, storeWith(t, testReport()))

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "connection refused")
	assert.Contains(t, text, "Scoring run run-42 at 2025-03-01 12:00 UTC")
	assert.Contains(t, text, "ETH → Market: 0.80, Fundamental: 0.90, Risk: 0.70, Reputation: 0.82")
	assert.Contains(t, text, "AAVE → Market: 0.50")
}

func TestReputationChecker_NoChainUsesStore(t *testing.T) {
	h := NewHandlers(nil, storeWith(t, testReport()))

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(map[string]any{"token": "aave"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.NotContains(t, text, "On-chain read failed")
	assert.True(t, strings.HasSuffix(text, "AAVE → Market: 0.50, Fundamental: 0.60, Risk: 0.40, Reputation: 0.51"))
}

func TestReputationChecker_ExcludedToken(t *testing.T) {
	h := NewHandlers(nil, storeWith(t, testReport()))

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(map[string]any{"token": "DOGE"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "DOGE was excluded from the last run: market and metadata unavailable")
}

func TestReputationChecker_UnknownToken(t *testing.T) {
	h := NewHandlers(nil, storeWith(t, testReport()))

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(map[string]any{"token": "PEPE"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No reputation data for PEPE")
}

func TestReputationChecker_ChainErrorWithoutRun(t *testing.T) {
	h := NewHandlers(&fakeChain{err: errors.New("rpc timeout")}, storeWith(t, nil))

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Error fetching on-chain reputation data: rpc timeout", resultText(t, result))
}

func TestReputationChecker_NoSources(t *testing.T) {
	h := NewHandlers(nil, nil)

	result, err := h.HandleReputationChecker(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No reputation data available")
}

// ============================================================
// reputation_rankings
// ============================================================

func TestReputationRankings(t *testing.T) {
	h := NewHandlers(nil, storeWith(t, testReport()))

	result, err := h.HandleReputationRankings(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Ranking from run run-42 (2 scored):")
	assert.Contains(t, text, "1. ETH  reputation 0.82")
	assert.Contains(t, text, "2. AAVE  reputation 0.51  (estimated: holder_concentration)")
	assert.Contains(t, text, "Excluded DOGE: market and metadata unavailable")
}

func TestReputationRankings_Limit(t *testing.T) {
	h := NewHandlers(nil, storeWith(t, testReport()))

	result, err := h.HandleReputationRankings(context.Background(), makeRequest(map[string]any{"limit": float64(1)}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "1. ETH")
	assert.NotContains(t, text, "2. AAVE")
}

func TestReputationRankings_Errors(t *testing.T) {
	h := NewHandlers(nil, storeWith(t, nil))

	result, err := h.HandleReputationRankings(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No scoring run has completed yet")

	result, err = h.HandleReputationRankings(context.Background(), makeRequest(map[string]any{"limit": float64(-1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ============================================================
// Server
// ============================================================

func TestToolDefinitions(t *testing.T) {
	assert.Equal(t, "reputation_checker", ToolReputationChecker.Name)
	assert.Contains(t, ToolReputationChecker.InputSchema.Properties, "token")
	assert.Empty(t, ToolReputationChecker.InputSchema.Required, "token is optional")

	assert.Equal(t, "reputation_rankings", ToolReputationRankings.Name)
	assert.Contains(t, ToolReputationRankings.InputSchema.Properties, "limit")

	assert.NotNil(t, NewMCPServer(nil, reputation.NewMemoryStore(), "test"))
}
