// Package config handles application configuration from environment variables
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/csking101/Sentinel-Protocol/internal/fetch"
	"github.com/csking101/Sentinel-Protocol/internal/reputation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// API protection
	RateLimitRPM   int
	RateLimitBurst int
	CORSOrigins    []string // empty allows any origin

	// Fetch policy
	APIDelay       time.Duration // minimum spacing between provider calls
	MaxRetries     int           // total attempts per provider call
	RetryDelay     time.Duration // base backoff, doubled per retry
	RequestTimeout time.Duration

	// Scoring run
	Assets           []reputation.Asset
	LookbackDays     int
	TopHolders       int
	FetchConcurrency int
	RunTimeout       time.Duration
	ScoreInterval    time.Duration
	OutputPath       string

	// Data providers
	CoinGeckoAPIKey  string
	CoinGeckoBaseURL string
	DefiLlamaBaseURL string
	CovalentAPIKey   string
	CovalentBaseURL  string
	CovalentChain    string

	// On-chain publication (optional)
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKey      string // Hex-encoded, with or without 0x prefix
	OwnerAddress    string // Optional; must match the key's address when set
	ABIPath         string // Optional override of the embedded contract ABI

	// Observability
	OTLPEndpoint string
}

// Hedera testnet defaults
const (
	DefaultRPCURL  = "https://testnet.hashio.io/api"
	DefaultChainID = 296
)

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultAPIDelay         = 1.0 // seconds
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 2.0 // seconds
	DefaultRequestTimeout   = 30 * time.Second
	DefaultLookbackDays     = 100
	DefaultTopHolders       = 10
	DefaultFetchConcurrency = 1
	DefaultRunTimeout       = 10 * time.Minute
	DefaultScoreInterval    = time.Hour
	DefaultOutputPath       = "reputation_scores.csv"
	DefaultRateLimitRPM     = 120
	DefaultRateLimitBurst   = 20
)

// DefaultAssets is the asset set scored when ASSETS_FILE is not set.
func DefaultAssets() []reputation.Asset {
	return []reputation.Asset{
		{ID: "ethereum", Symbol: "ETH", Contract: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"},
		{ID: "matic-network", Symbol: "MATIC", Contract: "0x7d1afa7b718fb893db30a3abc0cfc608aacfebb0"},
		{ID: "aave", Symbol: "AAVE", Contract: "0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"},
		{ID: "usd-coin", Symbol: "USDC", Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
		{ID: "dogecoin", Symbol: "DOGE", Contract: "0x4206931337dc273a630d328da6441786bfad668f"},
	}
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		CORSOrigins:      getEnvList("CORS_ORIGINS"),
		APIDelay:         getEnvSeconds("API_DELAY", DefaultAPIDelay),
		MaxRetries:       getEnvInt("MAX_RETRIES", DefaultMaxRetries),
		RetryDelay:       getEnvSeconds("RETRY_DELAY", DefaultRetryDelay),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		LookbackDays:     getEnvInt("LOOKBACK_DAYS", DefaultLookbackDays),
		TopHolders:       getEnvInt("TOP_HOLDERS", DefaultTopHolders),
		FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", DefaultFetchConcurrency),
		RunTimeout:       getEnvDuration("RUN_TIMEOUT", DefaultRunTimeout),
		ScoreInterval:    getEnvDuration("SCORE_INTERVAL", DefaultScoreInterval),
		OutputPath:       getEnv("OUTPUT_PATH", DefaultOutputPath),
		CoinGeckoAPIKey:  os.Getenv("COINGECKO_API_KEY"),
		CoinGeckoBaseURL: os.Getenv("COINGECKO_BASE_URL"), // empty uses the public API
		DefiLlamaBaseURL: os.Getenv("DEFILLAMA_BASE_URL"),
		CovalentAPIKey:   os.Getenv("COVALENT_API_KEY"),
		CovalentBaseURL:  os.Getenv("COVALENT_BASE_URL"),
		CovalentChain:    os.Getenv("COVALENT_CHAIN"),
		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		ContractAddress:  os.Getenv("CONTRACT_ADDRESS"),
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		OwnerAddress:     os.Getenv("OWNER_ADDRESS"),
		ABIPath:          os.Getenv("ABI_PATH"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	cfg.Assets = DefaultAssets()
	if path := os.Getenv("ASSETS_FILE"); path != "" {
		assets, err := LoadAssets(path)
		if err != nil {
			return nil, err
		}
		cfg.Assets = assets
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadAssets reads a JSON array of {"id","symbol","contract"} objects.
func LoadAssets(path string) ([]reputation.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ASSETS_FILE: %w", err)
	}
	var assets []reputation.Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("parse ASSETS_FILE %s: %w", path, err)
	}
	return assets, nil
}

// Validate checks the scoring configuration. On-chain settings are checked
// separately by ValidatePublisher.
func (c *Config) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	seen := make(map[string]bool, len(c.Assets))
	for i, a := range c.Assets {
		if a.ID == "" || a.Symbol == "" {
			return fmt.Errorf("asset %d: id and symbol are required", i)
		}
		key := strings.ToUpper(a.Symbol)
		if seen[key] {
			return fmt.Errorf("duplicate asset symbol %q", a.Symbol)
		}
		seen[key] = true
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.APIDelay < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("API_DELAY and RETRY_DELAY must not be negative")
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("LOOKBACK_DAYS must be positive")
	}
	if c.TopHolders < 1 {
		return fmt.Errorf("TOP_HOLDERS must be positive")
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}
	if c.ScoreInterval <= 0 {
		return fmt.Errorf("SCORE_INTERVAL must be positive")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}

	return nil
}

// ValidatePublisher checks that everything needed to send transactions is present
func (c *Config) ValidatePublisher() error {
	if err := c.ValidateReader(); err != nil {
		return err
	}

	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := strings.TrimPrefix(c.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}

	return nil
}

// ValidateReader checks the settings needed to read scores back from the contract
func (c *Config) ValidateReader() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("CONTRACT_ADDRESS is required")
	}
	return nil
}

// FetchPolicy returns the explicit rate-limit and retry configuration for
// the shared Fetcher.
func (c *Config) FetchPolicy() fetch.Config {
	p := fetch.DefaultConfig()
	p.InterCallDelay = c.APIDelay
	p.MaxAttempts = c.MaxRetries
	p.RetryBaseDelay = c.RetryDelay
	if c.RequestTimeout > 0 {
		p.AttemptTimeout = c.RequestTimeout
	}
	return p
}

// EngineOptions returns the scoring run options.
func (c *Config) EngineOptions() reputation.Options {
	return reputation.Options{
		LookbackDays: c.LookbackDays,
		TopHolders:   c.TopHolders,
		Concurrency:  c.FetchConcurrency,
		RunTimeout:   c.RunTimeout,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	return int(getEnvInt64(key, int64(defaultValue)))
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvSeconds reads a float number of seconds, e.g. API_DELAY=1.5.
func getEnvSeconds(key string, defaultSeconds float64) time.Duration {
	secs := defaultSeconds
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			secs = f
		}
	}
	return time.Duration(secs * float64(time.Second))
}

// getEnvDuration accepts Go durations ("90s", "10m") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return defaultValue
}
