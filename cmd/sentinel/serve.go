package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/csking101/Sentinel-Protocol/internal/health"
	"github.com/csking101/Sentinel-Protocol/internal/reputation"
	"github.com/csking101/Sentinel-Protocol/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Re-score on an interval and serve the latest scores over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			defer a.initTracing(ctx)()

			engine, fetcher := a.newEngine()
			store := reputation.NewMemoryStore()

			opts := []server.Option{
				server.WithLogger(a.logger),
				server.WithStore(store),
				server.WithHealthCheck("providers", health.Breaker(fetcher.Breaker().OpenKeys)),
			}

			var hook reputation.PublishFunc
			if publish {
				pub, err := a.newPublisher(true)
				if err != nil {
					return err
				}
				hook = publishFunc(pub)
				opts = append(opts,
					server.WithCloser(pub),
					server.WithHealthCheck("contract", health.Contract(func(ctx context.Context) error {
						_, err := pub.Tokens(ctx)
						return err
					}, 5*time.Second)),
				)
				a.logger.Info("on-chain publishing enabled", "contract", a.cfg.ContractAddress, "from", pub.Address())
			}

			worker := reputation.NewWorker(engine, store, hook, a.cfg.ScoreInterval, a.logger)
			opts = append(opts,
				server.WithWorker(worker),
				server.WithHealthCheck("scoring", health.LastRun(worker.LastResult, 2*a.cfg.ScoreInterval, nil)),
			)

			srv, err := server.New(a.cfg, opts...)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "publish every successful run on-chain")
	return cmd
}
