package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	mcpsrv "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/csking101/Sentinel-Protocol/internal/mcpserver"
	"github.com/csking101/Sentinel-Protocol/internal/reputation"
)

func newMCPCmd(a *app) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve reputation tools to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if input == "" {
				input = a.cfg.OutputPath
			}

			store := reputation.NewMemoryStore()
			if err := loadScoresFile(ctx, store, input); err != nil {
				a.logger.Warn("no local scores loaded", "path", input, "error", err)
			}

			var reader mcpserver.ChainReader
			pub, err := a.newPublisher(false)
			if err != nil {
				a.logger.Warn("on-chain reads disabled", "error", err)
			} else {
				defer pub.Close()
				reader = pub
			}

			if _, ok := store.Latest(ctx); !ok && reader == nil {
				return errors.New("no reputation source: configure the contract or write a scores file first")
			}

			// Logs go to stderr; stdout carries the protocol.
			a.logger.Info("serving MCP over stdio", "on_chain", reader != nil, "scores_file", input)
			return mcpsrv.ServeStdio(mcpserver.NewMCPServer(reader, store, Version))
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "scores file used when the contract is unreachable (default OUTPUT_PATH)")
	return cmd
}

// loadScoresFile stores the rows of a scores CSV as the latest report.
func loadScoresFile(ctx context.Context, store reputation.LatestStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := reputation.ReadScoresCSV(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s has no scored tokens", path)
	}

	report := &reputation.Report{
		RunID:    "file:" + path,
		Scores:   rows,
		Outcomes: make([]reputation.AssetOutcome, len(rows)),
	}
	for i, r := range rows {
		report.Outcomes[i] = reputation.AssetOutcome{Symbol: r.Symbol, Status: reputation.StatusScored}
		if r.Timestamp.After(report.FinishedAt) {
			report.FinishedAt = r.Timestamp
		}
	}
	if report.FinishedAt.IsZero() {
		if st, err := f.Stat(); err == nil {
			report.FinishedAt = st.ModTime()
		}
	}
	report.StartedAt = report.FinishedAt
	return store.Save(ctx, report)
}
