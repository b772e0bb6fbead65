package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/csking101/Sentinel-Protocol/internal/chain"
	"github.com/csking101/Sentinel-Protocol/internal/reputation"
)

// ChainReader is the read side of the reputation contract.
type ChainReader interface {
	ReadAll(ctx context.Context) ([]chain.Scores, error)
	ScoresOf(ctx context.Context, token string) (chain.Scores, error)
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	chain ChainReader
	store reputation.LatestStore
}

// NewHandlers creates a new Handlers instance. Either source may be nil.
func NewHandlers(reader ChainReader, store reputation.LatestStore) *Handlers {
	return &Handlers{chain: reader, store: store}
}

// HandleReputationChecker reports scores for one token or all of them,
// preferring the contract over the last local run.
func (h *Handlers) HandleReputationChecker(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token := strings.ToUpper(strings.TrimSpace(req.GetString("token", "")))

	var chainErr error
	if h.chain != nil {
		scores, err := h.readChain(ctx, token)
		if err == nil {
			if len(scores) == 0 {
				return mcp.NewToolResultText("No tokens found on the contract."), nil
			}
			return mcp.NewToolResultText(formatChainScores(scores)), nil
		}
		chainErr = err
	}

	report, ok := h.latest(ctx)
	if !ok {
		if chainErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error fetching on-chain reputation data: %v", chainErr)), nil
		}
		return mcp.NewToolResultError("No reputation data available yet"), nil
	}

	var b strings.Builder
	if chainErr != nil {
		fmt.Fprintf(&b, "On-chain read failed (%v); using the latest scoring run.\n", chainErr)
	}
	fmt.Fprintf(&b, "Scoring run %s at %s:\n", report.RunID, report.FinishedAt.UTC().Format("2006-01-02 15:04 UTC"))

	if token == "" {
		if len(report.Scores) == 0 {
			b.WriteString("No tokens were scored.")
			return mcp.NewToolResultText(b.String()), nil
		}
		lines := make([]string, len(report.Scores))
		for i, s := range report.Scores {
			lines[i] = formatScoreRow(s)
		}
		b.WriteString(strings.Join(lines, "\n"))
		return mcp.NewToolResultText(b.String()), nil
	}

	if s, ok := report.Score(token); ok {
		b.WriteString(formatScoreRow(s))
		return mcp.NewToolResultText(b.String()), nil
	}
	if o, ok := report.Outcome(token); ok && o.Status == reputation.StatusExcluded {
		return mcp.NewToolResultError(fmt.Sprintf("%s was excluded from the last run: %s", token, o.Reason)), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("No reputation data for %s", token)), nil
}

// HandleReputationRankings returns the ranked scores of the latest run.
func (h *Handlers) HandleReputationRankings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}

	report, ok := h.latest(ctx)
	if !ok {
		return mcp.NewToolResultError("No scoring run has completed yet"), nil
	}

	rows := report.Scores
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ranking from run %s (%d scored):\n", report.RunID, len(report.Scores))
	for _, s := range rows {
		fmt.Fprintf(&b, "%d. %s  reputation %.2f", s.Rank, s.Symbol, s.ReputationScore)
		if len(s.Imputed) > 0 {
			names := make([]string, len(s.Imputed))
			for i, c := range s.Imputed {
				names[i] = c.String()
			}
			fmt.Fprintf(&b, "  (estimated: %s)", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	for _, o := range report.Excluded() {
		fmt.Fprintf(&b, "Excluded %s: %s\n", o.Symbol, o.Reason)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (h *Handlers) readChain(ctx context.Context, token string) ([]chain.Scores, error) {
	if token == "" {
		return h.chain.ReadAll(ctx)
	}
	s, err := h.chain.ScoresOf(ctx, token)
	if err != nil {
		return nil, err
	}
	return []chain.Scores{s}, nil
}

func (h *Handlers) latest(ctx context.Context) (*reputation.Report, bool) {
	if h.store == nil {
		return nil, false
	}
	return h.store.Latest(ctx)
}

func formatChainScores(scores []chain.Scores) string {
	lines := make([]string, len(scores))
	for i, s := range scores {
		lines[i] = formatLine(s.Token, s.Market, s.Fundamental, s.Risk, s.Reputation)
	}
	return strings.Join(lines, "\n")
}

func formatScoreRow(s reputation.ScoreRow) string {
	return formatLine(s.Symbol, s.MarketStability, s.FundamentalStrength, s.RiskConcentration, s.ReputationScore)
}

func formatLine(token string, market, fundamental, risk, rep float64) string {
	return fmt.Sprintf("%s → Market: %.2f, Fundamental: %.2f, Risk: %.2f, Reputation: %.2f",
		token, market, fundamental, risk, rep)
}
