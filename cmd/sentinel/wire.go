package main

import (
	"context"
	"fmt"

	"github.com/csking101/Sentinel-Protocol/internal/chain"
	"github.com/csking101/Sentinel-Protocol/internal/circuitbreaker"
	"github.com/csking101/Sentinel-Protocol/internal/fetch"
	"github.com/csking101/Sentinel-Protocol/internal/reputation"
	"github.com/csking101/Sentinel-Protocol/internal/sources"
	"github.com/csking101/Sentinel-Protocol/internal/traces"
)

// newEngine wires the provider clients onto one shared fetcher so the rate
// limit and breaker apply across all of them.
func (a *app) newEngine() (*reputation.Engine, *fetch.Fetcher) {
	fetcher := fetch.New(a.cfg.FetchPolicy(),
		fetch.WithLogger(a.logger),
		fetch.WithBreaker(circuitbreaker.New(circuitbreaker.DefaultSettings())),
	)

	coingecko := sources.NewCoinGecko(fetcher, a.cfg.CoinGeckoBaseURL, a.cfg.CoinGeckoAPIKey)
	src := reputation.Sources{
		Market:   coingecko,
		Metadata: coingecko,
		Holders:  sources.NewCovalent(fetcher, a.cfg.CovalentBaseURL, a.cfg.CovalentChain, a.cfg.CovalentAPIKey),
		Registry: sources.NewDefiLlama(fetcher, a.cfg.DefiLlamaBaseURL),
	}

	return reputation.NewEngine(a.cfg.Assets, src, a.cfg.EngineOptions(), a.logger), fetcher
}

// newPublisher connects to the score contract. Without signing only the
// read path is checked.
func (a *app) newPublisher(signing bool) (*chain.Publisher, error) {
	validate := a.cfg.ValidateReader
	if signing {
		validate = a.cfg.ValidatePublisher
	}
	if err := validate(); err != nil {
		return nil, err
	}

	cc := chain.Config{
		RPCURL:          a.cfg.RPCURL,
		ContractAddress: a.cfg.ContractAddress,
		ChainID:         a.cfg.ChainID,
		OwnerAddress:    a.cfg.OwnerAddress,
		ABIPath:         a.cfg.ABIPath,
	}
	if signing {
		cc.PrivateKey = a.cfg.PrivateKey
	}
	return chain.New(cc, chain.WithLogger(a.logger))
}

// initTracing installs the OTLP exporter when configured.
func (a *app) initTracing(ctx context.Context) func() {
	shutdown, err := traces.Init(ctx, a.cfg.OTLPEndpoint, Version, a.logger)
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			a.logger.Warn("trace flush failed", "error", err)
		}
	}
}

// toChainScores maps ranked rows onto the contract's record layout.
func toChainScores(rows []reputation.ScoreRow) []chain.Scores {
	out := make([]chain.Scores, len(rows))
	for i, r := range rows {
		out[i] = chain.Scores{
			Token:       r.Symbol,
			Market:      r.MarketStability,
			Fundamental: r.FundamentalStrength,
			Risk:        r.RiskConcentration,
			Reputation:  r.ReputationScore,
		}
	}
	return out
}

// publishFunc adapts the publisher to the worker's hook. A batch with any
// failed row is reported as an error so the worker logs it.
func publishFunc(pub *chain.Publisher) reputation.PublishFunc {
	return func(ctx context.Context, rows []reputation.ScoreRow) error {
		summary, err := pub.Publish(ctx, toChainScores(rows))
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d score updates failed", summary.Failed, len(rows))
		}
		return nil
	}
}
