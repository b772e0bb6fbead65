package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/csking101/Sentinel-Protocol/internal/reputation"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		output  string
		publish bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Run one scoring pass and write the ranked scores file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			defer a.initTracing(ctx)()

			if output == "" {
				output = a.cfg.OutputPath
			}

			engine, _ := a.newEngine()
			report, runErr := engine.Run(ctx)
			if report == nil {
				return runErr
			}

			if err := writeReportFile(output, report); err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			a.logger.Info("scores written", "path", output, "scored", len(report.Scores))

			if runErr != nil {
				return runErr
			}

			if publish {
				pub, err := a.newPublisher(true)
				if err != nil {
					return err
				}
				defer pub.Close()

				summary, err := pub.Publish(ctx, toChainScores(report.Scores))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\npublished %d/%d score updates\n", summary.Successful, len(report.Scores))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "scores file path (default OUTPUT_PATH)")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the scores on-chain after the run")
	return cmd
}

func writeReportFile(path string, report *reputation.Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return reputation.WriteCSV(f, report)
}

// printReport renders the ranking as an aligned table.
func printReport(w io.Writer, report *reputation.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTOKEN\tMARKET\tFUNDAMENTAL\tRISK\tREPUTATION\tIMPUTED")
	for _, s := range report.Scores {
		imputed := make([]string, len(s.Imputed))
		for i, c := range s.Imputed {
			imputed[i] = c.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n",
			s.Rank, s.Symbol, s.MarketStability, s.FundamentalStrength,
			s.RiskConcentration, s.ReputationScore, strings.Join(imputed, ","))
	}
	for _, o := range report.Excluded() {
		fmt.Fprintf(tw, "-\t%s\texcluded: %s\t\t\t\t\n", o.Symbol, o.Reason)
	}
	_ = tw.Flush()
}
