package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultCoinGeckoURL is the public API root.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGecko serves market charts and coin metadata.
type CoinGecko struct {
	getter  JSONGetter
	baseURL string
	apiKey  string
}

// NewCoinGecko creates a CoinGecko client. An empty baseURL uses the public API.
func NewCoinGecko(getter JSONGetter, baseURL, apiKey string) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	return &CoinGecko{
		getter:  getter,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (c *CoinGecko) headers() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("x-cg-demo-api-key", c.apiKey)
	}
	return h
}

// MarketChart returns USD price, market-cap and volume series for the last
// days days.
func (c *CoinGecko) MarketChart(ctx context.Context, assetID string, days int) (*MarketChart, error) {
	u := fmt.Sprintf("%s/coins/%s/market_chart", c.baseURL, url.PathEscape(assetID))
	q := url.Values{
		"vs_currency": {"usd"},
		"days":        {strconv.Itoa(days)},
	}

	var chart MarketChart
	if err := c.getter.GetJSON(ctx, u, q, c.headers(), &chart); err != nil {
		return nil, fmt.Errorf("coingecko market chart %s: %w", assetID, err)
	}
	return &chart, nil
}

// CoinDetails returns genesis date and developer activity for an asset.
func (c *CoinGecko) CoinDetails(ctx context.Context, assetID string) (*CoinDetails, error) {
	u := fmt.Sprintf("%s/coins/%s", c.baseURL, url.PathEscape(assetID))
	q := url.Values{
		"localization": {"false"},
		"tickers":      {"false"},
		"market_data":  {"false"},
	}

	var details CoinDetails
	if err := c.getter.GetJSON(ctx, u, q, c.headers(), &details); err != nil {
		return nil, fmt.Errorf("coingecko coin %s: %w", assetID, err)
	}
	return &details, nil
}
