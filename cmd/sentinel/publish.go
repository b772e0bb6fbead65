package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/csking101/Sentinel-Protocol/internal/reputation"
)

func newPublishCmd(a *app) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a scores file to the reputation contract",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			defer a.initTracing(ctx)()

			if input == "" {
				input = a.cfg.OutputPath
			}

			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open scores file: %w", err)
			}
			rows, err := reputation.ReadScoresCSV(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}
			if len(rows) == 0 {
				return fmt.Errorf("%s has no scored tokens", input)
			}

			pub, err := a.newPublisher(true)
			if err != nil {
				return err
			}
			defer pub.Close()

			a.logger.Info("publishing scores", "tokens", len(rows), "from", pub.Address())
			summary, err := pub.Publish(ctx, toChainScores(rows))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tTX\tGAS USED\tRESULT")
			for _, r := range summary.Results {
				result := "ok"
				if r.Err != nil {
					result = r.Err.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Token, r.TxHash, r.GasUsed, result)
			}
			_ = tw.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "\nsuccessful: %d  failed: %d  total: %d\n", summary.Successful, summary.Failed, len(rows))

			if summary.Failed > 0 {
				return fmt.Errorf("%d score updates failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "scores file path (default OUTPUT_PATH)")
	return cmd
}
