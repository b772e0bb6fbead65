// Package reputation computes composite reputation scores for a fixed set of
// crypto assets.
//
// A run acquires raw metrics per asset from the market, metadata, holder and
// registry sources, assembles them into a table, imputes and min-max
// normalizes every column, folds the normalized metrics into three
// sub-scores and one weighted reputation score, and ranks the assets.
//
// Sub-scores:
// - Market stability: price volatility, market-cap volatility, liquidity
// - Fundamental strength: age, developer activity, ecosystem integration
// - Risk concentration: share of supply held by the largest holders
package reputation

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Asset identifies one scoring subject. The configured set is fixed per run.
type Asset struct {
	ID       string `json:"id"`       // market/metadata provider identifier
	Symbol   string `json:"symbol"`   // display symbol, unique per run
	Contract string `json:"contract"` // token contract for holder data
}

// Value is a raw metric that may be absent. Absent is distinct from zero.
type Value struct {
	v  float64
	ok bool
}

// Some returns a present value.
func Some(v float64) Value { return Value{v: v, ok: true} }

// Absent returns the absent value.
func Absent() Value { return Value{} }

// Get returns the value and whether it is present.
func (v Value) Get() (float64, bool) { return v.v, v.ok }

// Present reports whether the value is present.
func (v Value) Present() bool { return v.ok }

// MarshalJSON encodes absent as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

func (v Value) String() string {
	if !v.ok {
		return "absent"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

// Column names one tracked metric. Column order is fixed and shared by every row.
type Column int

const (
	PriceVolatility Column = iota
	McapVolatility
	Liquidity
	Age
	DevActivity
	EcosystemIntegration
	HolderConcentration

	numColumns
)

// Columns lists every metric column in table order.
var Columns = [numColumns]Column{
	PriceVolatility,
	McapVolatility,
	Liquidity,
	Age,
	DevActivity,
	EcosystemIntegration,
	HolderConcentration,
}

var columnNames = [numColumns]string{
	"price_volatility",
	"mcap_volatility",
	"liquidity",
	"age",
	"dev_activity",
	"ecosystem_integration",
	"holder_concentration",
}

func (c Column) String() string {
	if c < 0 || c >= numColumns {
		return "unknown"
	}
	return columnNames[c]
}

// MarshalText encodes the column by name.
func (c Column) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// LowerIsBetter reports whether the column is inverted after normalization.
func (c Column) LowerIsBetter() bool {
	switch c {
	case PriceVolatility, McapVolatility, HolderConcentration:
		return true
	default:
		return false
	}
}

// RawRow holds one asset's raw metrics.
type RawRow struct {
	Symbol string
	Values [numColumns]Value
}

// Get returns the raw value of column c.
func (r *RawRow) Get(c Column) Value { return r.Values[c] }

// Set stores the raw value of column c.
func (r *RawRow) Set(c Column, v Value) { r.Values[c] = v }

// Absent lists the columns with no value.
func (r *RawRow) Absent() []Column {
	var out []Column
	for _, c := range Columns {
		if !r.Values[c].Present() {
			out = append(out, c)
		}
	}
	return out
}

// NormalizedRow holds one asset's metrics after imputation, min-max scaling
// and inversion. Every value is present; higher is always better.
type NormalizedRow struct {
	Symbol  string
	Values  [numColumns]float64
	Imputed []Column
}

// Get returns the normalized value of column c.
func (r *NormalizedRow) Get(c Column) float64 { return r.Values[c] }

// ScoreRow is the final per-asset output of a run. It is not mutated after
// the ranker assigns Rank.
type ScoreRow struct {
	Rank                int       `json:"rank"`
	Symbol              string    `json:"token"`
	MarketStability     float64   `json:"marketStability"`
	FundamentalStrength float64   `json:"fundamentalStrength"`
	RiskConcentration   float64   `json:"riskConcentration"`
	ReputationScore     float64   `json:"reputationScore"`
	Timestamp           time.Time `json:"timestamp"`
	Imputed             []Column  `json:"imputed,omitempty"`
}

// Status is the outcome of one asset in a run.
type Status string

const (
	StatusScored   Status = "scored"
	StatusExcluded Status = "excluded"
)

// AssetOutcome tells consumers whether an asset was scored (possibly with
// imputed metrics) or excluded, and why.
type AssetOutcome struct {
	Symbol  string   `json:"token"`
	Status  Status   `json:"status"`
	Reason  string   `json:"reason,omitempty"`
	Imputed []Column `json:"imputed,omitempty"`
}

// Report is the result of one run: ranked scores plus one outcome per
// configured asset, in configuration order.
type Report struct {
	RunID      string         `json:"runId"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Scores     []ScoreRow     `json:"scores"`
	Outcomes   []AssetOutcome `json:"outcomes"`
}

// Score returns the score row for symbol, if it was scored. Symbols match
// case-insensitively.
func (r *Report) Score(symbol string) (ScoreRow, bool) {
	for _, s := range r.Scores {
		if strings.EqualFold(s.Symbol, symbol) {
			return s, true
		}
	}
	return ScoreRow{}, false
}

// Outcome returns the outcome for symbol, if it was configured.
func (r *Report) Outcome(symbol string) (AssetOutcome, bool) {
	for _, o := range r.Outcomes {
		if strings.EqualFold(o.Symbol, symbol) {
			return o, true
		}
	}
	return AssetOutcome{}, false
}

// Excluded returns the outcomes of excluded assets.
func (r *Report) Excluded() []AssetOutcome {
	var out []AssetOutcome
	for _, o := range r.Outcomes {
		if o.Status == StatusExcluded {
			out = append(out, o)
		}
	}
	return out
}
