package reputation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/csking101/Sentinel-Protocol/internal/metrics"
)

// Runner executes one scoring pass.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// PublishFunc receives the ranked scores of every successful run.
type PublishFunc func(ctx context.Context, scores []ScoreRow) error

// Worker periodically re-scores all assets and keeps the latest report.
type Worker struct {
	runner   Runner
	store    LatestStore
	publish  PublishFunc
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	lastErr error
	lastRun time.Time
}

// NewWorker creates a scoring worker. interval is typically 1 hour.
// publish may be nil.
func NewWorker(runner Runner, store LatestStore, publish PublishFunc, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		runner:   runner,
		store:    store,
		publish:  publish,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the scoring loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop signals the worker to stop. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// RunOnce performs one scoring pass and stores the report. A run where every
// asset was excluded still replaces the stored report so consumers see the
// exclusions.
func (w *Worker) RunOnce(ctx context.Context) {
	report, err := w.runner.Run(ctx)
	w.mu.Lock()
	w.lastErr = err
	w.lastRun = time.Now()
	w.mu.Unlock()

	if err != nil && !(errors.Is(err, ErrAllExcluded) && report != nil) {
		w.logger.Warn("scoring run failed", "error", err)
		return
	}

	if saveErr := w.store.Save(ctx, report); saveErr != nil {
		w.logger.Warn("failed to store report", "error", saveErr, "run_id", report.RunID)
		return
	}
	if err != nil {
		w.logger.Warn("scoring run produced no scores", "run_id", report.RunID, "excluded", len(report.Outcomes))
		return
	}

	RecordGauges(report)

	if w.publish != nil {
		if err := w.publish(ctx, report.Scores); err != nil {
			w.logger.Warn("publishing scores failed", "error", err, "run_id", report.RunID)
		}
	}
}

// LastResult returns the error of the most recent run and when it ended.
// The zero time means no run has finished.
func (w *Worker) LastResult() (time.Time, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRun, w.lastErr
}

// RecordGauges exports a report's scores as Prometheus gauges.
func RecordGauges(r *Report) {
	for _, s := range r.Scores {
		metrics.Score.WithLabelValues(s.Symbol, "market_stability").Set(s.MarketStability)
		metrics.Score.WithLabelValues(s.Symbol, "fundamental_strength").Set(s.FundamentalStrength)
		metrics.Score.WithLabelValues(s.Symbol, "risk_concentration").Set(s.RiskConcentration)
		metrics.Score.WithLabelValues(s.Symbol, "reputation").Set(s.ReputationScore)
	}
	for _, o := range r.Excluded() {
		metrics.Score.DeletePartialMatch(map[string]string{"token": o.Symbol})
	}
	metrics.LastRunTimestamp.Set(float64(r.FinishedAt.Unix()))
}
