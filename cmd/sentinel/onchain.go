package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newOnchainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "onchain",
		Short: "Print the scores currently stored in the reputation contract",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, err := a.newPublisher(false)
			if err != nil {
				return err
			}
			defer pub.Close()

			scores, err := pub.ReadAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(scores) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tokens stored on-chain")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tMARKET\tFUNDAMENTAL\tRISK\tREPUTATION")
			for _, s := range scores {
				fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%.6f\t%.6f\n", s.Token, s.Market, s.Fundamental, s.Risk, s.Reputation)
			}
			return tw.Flush()
		},
	}
}
