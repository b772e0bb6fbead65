package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/csking101/Sentinel-Protocol/internal/logging"
	"github.com/csking101/Sentinel-Protocol/internal/metrics"
	"github.com/csking101/Sentinel-Protocol/internal/sources"
	"github.com/csking101/Sentinel-Protocol/internal/traces"
)

var (
	ErrNoAssets    = errors.New("reputation: no assets configured")
	ErrAllExcluded = errors.New("reputation: all assets excluded")
)

// MarketSource provides price, market-cap and volume history.
type MarketSource interface {
	MarketChart(ctx context.Context, assetID string, days int) (*sources.MarketChart, error)
}

// MetadataSource provides genesis date and development activity.
type MetadataSource interface {
	CoinDetails(ctx context.Context, assetID string) (*sources.CoinDetails, error)
}

// HolderSource provides the holder distribution of a token contract.
type HolderSource interface {
	TokenHolders(ctx context.Context, contract string) (*sources.HolderPage, error)
}

// RegistrySource provides the tracked-protocol symbol snapshot.
type RegistrySource interface {
	ProtocolSymbols(ctx context.Context) ([]string, error)
}

// Sources groups the data providers a run consumes.
type Sources struct {
	Market   MarketSource
	Metadata MetadataSource
	Holders  HolderSource
	Registry RegistrySource
}

// Options tunes a run.
type Options struct {
	LookbackDays int
	TopHolders   int
	// Concurrency bounds the assets fetched at once. The fetcher's global
	// rate limit applies across all of them.
	Concurrency int
	RunTimeout  time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		LookbackDays: 100,
		TopHolders:   10,
		Concurrency:  1,
		RunTimeout:   10 * time.Minute,
	}
}

// Engine runs the scoring pipeline over a fixed asset list.
type Engine struct {
	assets []Asset
	src    Sources
	opts   Options
	scorer *Scorer
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine. The asset slice is copied.
func NewEngine(assets []Asset, src Sources, opts Options, logger *slog.Logger) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		assets: append([]Asset(nil), assets...),
		src:    src,
		opts:   opts,
		scorer: NewScorer(),
		logger: logger,
		now:    time.Now,
	}
}

// Assets returns the configured assets in order.
func (e *Engine) Assets() []Asset {
	return append([]Asset(nil), e.assets...)
}

type collected struct {
	row    RawRow
	reason string // non-empty when excluded
}

// Run executes one scoring pass. Per-asset and per-metric failures are
// absorbed and reported in the Report's outcomes. ErrAllExcluded is returned
// together with a report carrying the exclusions.
func (e *Engine) Run(ctx context.Context) (_ *Report, err error) {
	if len(e.assets) == 0 {
		metrics.RunsTotal.WithLabelValues("empty").Inc()
		return nil, ErrNoAssets
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := traces.StartSpan(ctx, "reputation.Run", traces.RunID(runID))
	defer func() { traces.End(span, err) }()

	if e.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunTimeout)
		defer cancel()
	}

	log := e.logger.With("run_id", runID)
	started := e.now().UTC()
	log.Info("scoring run started", "assets", len(e.assets), "concurrency", e.opts.Concurrency)

	registry, registryErr := e.registry(ctx)
	if registryErr != nil {
		log.Warn("registry unavailable, ecosystem integration degrades to 0", "error", registryErr)
	}

	results := make([]collected, len(e.assets))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, a := range e.assets {
		g.Go(func() error {
			results[i] = e.collect(ctx, log, a, registry, registryErr, started)
			return nil
		})
	}
	_ = g.Wait()

	var rows []RawRow
	for _, r := range results {
		if r.reason == "" {
			rows = append(rows, r.row)
		}
	}
	table, err := BuildTable(e.assets, rows)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	normalized := Normalize(table)
	ranked := Rank(e.scorer.Score(normalized))

	report := &Report{
		RunID:     runID,
		StartedAt: started,
		Scores:    ranked,
		Outcomes:  make([]AssetOutcome, len(e.assets)),
	}
	imputed := make(map[string][]Column, len(normalized))
	for _, n := range normalized {
		imputed[n.Symbol] = n.Imputed
	}
	for i, a := range e.assets {
		o := AssetOutcome{Symbol: a.Symbol, Status: StatusScored, Imputed: imputed[a.Symbol]}
		if results[i].reason != "" {
			o = AssetOutcome{Symbol: a.Symbol, Status: StatusExcluded, Reason: results[i].reason}
		}
		metrics.AssetsTotal.WithLabelValues(string(o.Status)).Inc()
		report.Outcomes[i] = o
	}
	report.FinishedAt = e.now().UTC()
	metrics.RunDuration.Observe(report.FinishedAt.Sub(started).Seconds())

	if table.Len() == 0 {
		metrics.RunsTotal.WithLabelValues("empty").Inc()
		log.Error("scoring run produced no scores", "excluded", len(e.assets))
		return report, ErrAllExcluded
	}

	metrics.RunsTotal.WithLabelValues("ok").Inc()
	log.Info("scoring run finished",
		"scored", table.Len(),
		"excluded", len(e.assets)-table.Len(),
		"duration", report.FinishedAt.Sub(started),
	)
	return report, nil
}

func (e *Engine) registry(ctx context.Context) ([]string, error) {
	if e.src.Registry == nil {
		return nil, errors.New("no registry source")
	}
	ctx, span := traces.StartSpan(ctx, "reputation.Registry")
	symbols, err := e.src.Registry.ProtocolSymbols(ctx)
	traces.End(span, err)
	return symbols, err
}

// collect fetches every payload for one asset and extracts its row. The
// asset is excluded when neither market nor metadata data could be fetched,
// or when the run context expired during its fetches.
func (e *Engine) collect(ctx context.Context, log *slog.Logger, a Asset, registry []string, registryErr error, now time.Time) (c collected) {
	ctx, span := traces.StartSpan(ctx, "reputation.Asset", traces.Symbol(a.Symbol))
	defer func() {
		var err error
		if c.reason != "" {
			err = errors.New(c.reason)
		}
		traces.End(span, err)
	}()
	log = log.With("symbol", a.Symbol)

	p := &Payload{
		Symbol:      a.Symbol,
		Registry:    registry,
		RegistryErr: registryErr,
		TopHolders:  e.opts.TopHolders,
		Now:         now,
	}
	p.Chart, p.ChartErr = e.marketChart(ctx, a)
	p.Details, p.DetailsErr = e.coinDetails(ctx, a)
	p.Holders, p.HoldersErr = e.tokenHolders(ctx, a)

	if err := ctx.Err(); err != nil {
		log.Warn("asset excluded", "reason", "run cancelled", "error", err)
		return collected{reason: fmt.Sprintf("run cancelled: %v", err)}
	}
	if p.ChartErr != nil && p.DetailsErr != nil {
		log.Warn("asset excluded", "reason", "market and metadata unavailable",
			"chart_error", p.ChartErr, "details_error", p.DetailsErr)
		return collected{reason: fmt.Sprintf("market and metadata unavailable: %v; %v", p.ChartErr, p.DetailsErr)}
	}

	row, errs := ExtractRow(p)
	for _, me := range errs {
		metrics.MetricsAbsentTotal.WithLabelValues(me.Column.String()).Inc()
		log.Warn("metric absent", "metric", me.Column.String(), "error", me.Err)
	}
	return collected{row: row}
}

func (e *Engine) marketChart(ctx context.Context, a Asset) (*sources.MarketChart, error) {
	if e.src.Market == nil {
		return nil, errors.New("no market source")
	}
	return e.src.Market.MarketChart(ctx, a.ID, e.opts.LookbackDays)
}

func (e *Engine) coinDetails(ctx context.Context, a Asset) (*sources.CoinDetails, error) {
	if e.src.Metadata == nil {
		return nil, errors.New("no metadata source")
	}
	return e.src.Metadata.CoinDetails(ctx, a.ID)
}

func (e *Engine) tokenHolders(ctx context.Context, a Asset) (*sources.HolderPage, error) {
	if e.src.Holders == nil {
		return nil, errors.New("no holder source")
	}
	if a.Contract == "" {
		return nil, fmt.Errorf("%s has no contract address", a.Symbol)
	}
	return e.src.Holders.TokenHolders(ctx, a.Contract)
}
