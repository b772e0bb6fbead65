// Package fetch is the resilient HTTP fetcher every data-source client goes
// through: one global token bucket spaces out all calls, failed attempts are
// retried with exponential backoff, and a per-host circuit breaker stops
// hammering a provider that is down.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/csking101/Sentinel-Protocol/internal/circuitbreaker"
	"github.com/csking101/Sentinel-Protocol/internal/logging"
	"github.com/csking101/Sentinel-Protocol/internal/metrics"
	"github.com/csking101/Sentinel-Protocol/internal/retry"
	"github.com/csking101/Sentinel-Protocol/internal/traces"
)

var (
	ErrCircuitOpen = errors.New("fetch: circuit open")
	ErrDecode      = errors.New("fetch: decode response")
	ErrInvalidURL  = errors.New("fetch: invalid url")
)

// maxBodyBytes bounds a single response body. The protocol registry
// snapshot is the largest payload at a few megabytes.
const maxBodyBytes = 64 << 20

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned HTTP %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status indicates provider trouble rather
// than a bad request, which is what the circuit breaker counts.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config is the explicit rate-limit and retry configuration of a Fetcher.
type Config struct {
	// InterCallDelay is the minimum spacing between any two attempts,
	// across all callers sharing the Fetcher.
	InterCallDelay time.Duration
	// MaxAttempts is the total number of attempts per call.
	MaxAttempts int
	// RetryBaseDelay is the wait after the first failure; it doubles after each.
	RetryBaseDelay time.Duration
	// AttemptTimeout bounds a single HTTP attempt.
	AttemptTimeout time.Duration
	// UserAgent is sent on every request when non-empty.
	UserAgent string
}

// DefaultConfig mirrors the environment defaults: 1s spacing, 3 attempts,
// 2s base backoff.
func DefaultConfig() Config {
	return Config{
		InterCallDelay: time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 2 * time.Second,
		AttemptTimeout: 30 * time.Second,
		UserAgent:      "sentinel-reputation/1.0",
	}
}

// Doer abstracts *http.Client for testing
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully-read provider response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Fetcher issues rate-limited, retried GET requests.
type Fetcher struct {
	cfg     Config
	client  Doer
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// Option configures the fetcher
type Option func(*Fetcher)

// WithClient sets a custom HTTP client
func WithClient(c Doer) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the fallback logger used when the context carries none
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithBreaker shares a circuit breaker between fetchers
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(f *Fetcher) { f.breaker = b }
}

// New creates a Fetcher. A non-positive InterCallDelay disables throttling.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	limit := rate.Inf
	if cfg.InterCallDelay > 0 {
		limit = rate.Every(cfg.InterCallDelay)
	}

	f := &Fetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: cfg.AttemptTimeout}
	}
	if f.breaker == nil {
		f.breaker = circuitbreaker.New(circuitbreaker.DefaultSettings())
	}
	return f
}

// Breaker exposes the circuit breaker for health reporting.
func (f *Fetcher) Breaker() *circuitbreaker.Breaker {
	return f.breaker
}

// Get fetches rawURL with query merged into its query string. Every attempt
// first waits for the shared rate limiter. Transport errors and non-2xx
// statuses are retried; the last failure is returned once attempts run out.
func (f *Fetcher) Get(ctx context.Context, rawURL string, query url.Values, headers http.Header) (*Response, error) {
	u, err := buildURL(rawURL, query)
	if err != nil {
		return nil, err
	}
	host := u.Host
	display := redact(u)

	ctx, span := traces.StartSpan(ctx, "fetch.get", traces.Host(host))
	logger := f.log(ctx).With("url", display)

	var resp *Response
	policy := retry.Policy{
		MaxAttempts: f.cfg.MaxAttempts,
		BaseDelay:   f.cfg.RetryBaseDelay,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("fetch attempt failed, retrying",
				"attempt", attempt+1,
				"max_attempts", f.cfg.MaxAttempts,
				"retry_in", wait.String(),
				"error", err,
			)
		},
	}

	attempts := 0
	err = policy.Run(ctx, func(attempt int) error {
		attempts = attempt + 1
		if err := f.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		if !f.breaker.Allow(host) {
			return retry.Permanent(fmt.Errorf("%w: %s", ErrCircuitOpen, host))
		}

		logger.Debug("fetch attempt", "attempt", attempts)
		r, err := f.do(ctx, u, headers, display)
		f.record(host, err)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		r.Attempts = attempts
		resp = r
		return nil
	})
	span.SetAttributes(traces.Attempt(attempts))
	traces.End(span, err)

	if err != nil {
		metrics.FetchFailuresTotal.WithLabelValues(host).Inc()
		logger.Warn("fetch failed", "attempts", attempts, "error", err)
		return nil, err
	}
	return resp, nil
}

// GetJSON fetches like Get and decodes the body into dst. A body that does
// not decode is reported as ErrDecode and is not retried.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, query url.Values, headers http.Header, dst any) error {
	resp, err := f.Get(ctx, rawURL, query, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return fmt.Errorf("%w from %s: %v", ErrDecode, resp.URL, err)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, u *url.URL, headers http.Header, display string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %v", ErrInvalidURL, err))
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	start := time.Now()
	httpResp, err := f.client.Do(req)
	metrics.FetchDuration.WithLabelValues(u.Host).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w", display, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<16))
		return nil, &StatusError{URL: display, StatusCode: httpResp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", display, err)
	}

	return &Response{
		URL:        display,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

// record feeds the attempt outcome to metrics and the breaker. Client errors
// other than 429 prove the host is up, so they don't count against it.
func (f *Fetcher) record(host string, err error) {
	if err == nil {
		metrics.FetchAttemptsTotal.WithLabelValues(host, "success").Inc()
		f.breaker.RecordSuccess(host)
		return
	}
	metrics.FetchAttemptsTotal.WithLabelValues(host, "error").Inc()

	var se *StatusError
	if errors.As(err, &se) && !se.Temporary() {
		f.breaker.RecordSuccess(host)
		return
	}
	f.breaker.RecordFailure(host)
}

func (f *Fetcher) log(ctx context.Context) *slog.Logger {
	if id := logging.RunID(ctx); id != "" {
		return f.logger.With("run_id", id)
	}
	return f.logger
}

func buildURL(rawURL string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// redact drops the query string, which may carry API keys, from log output.
func redact(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}
