// Package sources holds the typed response contracts of the external data
// providers and the HTTP clients that fill them.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrShape marks a payload that decoded as JSON but not into the expected shape.
var ErrShape = errors.New("sources: unexpected payload shape")

// JSONGetter is the part of fetch.Fetcher the clients need.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, query url.Values, headers http.Header, dst any) error
}

// Point is one (timestamp, value) observation of a time series.
type Point struct {
	Time  time.Time
	Value float64
}

// UnmarshalJSON decodes the provider's [unix_millis, value] pair.
func (p *Point) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: series point: %v", ErrShape, err)
	}
	if len(raw) < 2 || raw[0] == nil || raw[1] == nil {
		return fmt.Errorf("%w: series point %s", ErrShape, string(b))
	}
	p.Time = time.UnixMilli(int64(*raw[0])).UTC()
	p.Value = *raw[1]
	return nil
}

// MarshalJSON encodes the point back to [unix_millis, value].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{float64(p.Time.UnixMilli()), p.Value})
}

// MarketChart is the aligned price, market-cap and volume series for a
// lookback window.
type MarketChart struct {
	Prices       []Point `json:"prices"`
	MarketCaps   []Point `json:"market_caps"`
	TotalVolumes []Point `json:"total_volumes"`
}

// Values returns the value column of a series.
func Values(series []Point) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.Value
	}
	return out
}

// CoinDetails is the subset of coin metadata the pipeline reads.
type CoinDetails struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	GenesisDate   *string        `json:"genesis_date"`
	DeveloperData *DeveloperData `json:"developer_data"`
}

// DeveloperData carries repository activity counters.
type DeveloperData struct {
	CommitCount4Weeks *int `json:"commit_count_4_weeks"`
}

// Protocol is one entry of the ecosystem registry snapshot.
type Protocol struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Holder is one token holder record. Balances are decimal strings in the
// token's base units.
type Holder struct {
	Address     string `json:"address"`
	Balance     string `json:"balance"`
	TotalSupply string `json:"total_supply"`
}

// BalanceValue parses the balance.
func (h Holder) BalanceValue() (float64, error) {
	return parseAmount(h.Balance)
}

// TotalSupplyValue parses the total supply.
func (h Holder) TotalSupplyValue() (float64, error) {
	return parseAmount(h.TotalSupply)
}

// HolderPage is the holder distribution for one token contract.
type HolderPage struct {
	Items []Holder `json:"items"`
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrShape)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrShape, s)
	}
	return v, nil
}
