package reputation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/csking101/Sentinel-Protocol/internal/sources"
)

const (
	// LiquidityWindow is the number of trailing days averaged for liquidity.
	LiquidityWindow = 7
	// GenesisLayout is the provider's genesis date format.
	GenesisLayout = "2006-01-02"
	daysPerYear   = 365.0
)

// ErrSourceUnavailable marks a metric whose source call failed.
var ErrSourceUnavailable = errors.New("reputation: source unavailable")

// Payload bundles everything fetched for one asset. A nil field means the
// corresponding source call failed; the matching error explains why.
type Payload struct {
	Symbol      string
	Chart       *sources.MarketChart
	ChartErr    error
	Details     *sources.CoinDetails
	DetailsErr  error
	Holders     *sources.HolderPage
	HoldersErr  error
	Registry    []string
	RegistryErr error
	TopHolders  int
	Now         time.Time
}

// Extractor reduces a payload to one metric. A returned error means the
// metric is absent; the Value is ignored in that case.
type Extractor func(p *Payload) (Value, error)

// Extractors maps every column to the function computing it.
var Extractors = [numColumns]Extractor{
	PriceVolatility:      extractPriceVolatility,
	McapVolatility:       extractMcapVolatility,
	Liquidity:            extractLiquidity,
	Age:                  extractAge,
	DevActivity:          extractDevActivity,
	EcosystemIntegration: extractEcosystemIntegration,
	HolderConcentration:  extractHolderConcentration,
}

// MetricError records why one metric of one asset is absent.
type MetricError struct {
	Symbol string
	Column Column
	Err    error
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("reputation: %s %s: %v", e.Symbol, e.Column, e.Err)
}

func (e *MetricError) Unwrap() error { return e.Err }

// ExtractRow runs every extractor over the payload. A failing extractor
// leaves its column absent and is reported; it never affects other columns.
func ExtractRow(p *Payload) (RawRow, []*MetricError) {
	row := RawRow{Symbol: p.Symbol}
	var errs []*MetricError
	for _, c := range Columns {
		v, err := Extractors[c](p)
		if err != nil {
			row.Set(c, Absent())
			errs = append(errs, &MetricError{Symbol: p.Symbol, Column: c, Err: err})
			continue
		}
		row.Set(c, v)
	}
	return row, errs
}

func extractPriceVolatility(p *Payload) (Value, error) {
	if p.Chart == nil {
		return Absent(), sourceErr(p.ChartErr)
	}
	return PriceVolatilityOf(sources.Values(p.Chart.Prices)), nil
}

func extractMcapVolatility(p *Payload) (Value, error) {
	if p.Chart == nil {
		return Absent(), sourceErr(p.ChartErr)
	}
	return MarketCapVolatilityOf(sources.Values(p.Chart.MarketCaps)), nil
}

func extractLiquidity(p *Payload) (Value, error) {
	if p.Chart == nil {
		return Absent(), sourceErr(p.ChartErr)
	}
	return LiquidityRatioOf(sources.Values(p.Chart.TotalVolumes), sources.Values(p.Chart.MarketCaps)), nil
}

func extractAge(p *Payload) (Value, error) {
	if p.Details == nil {
		return Absent(), sourceErr(p.DetailsErr)
	}
	return AgeYearsOf(p.Details.GenesisDate, p.Now), nil
}

func extractDevActivity(p *Payload) (Value, error) {
	if p.Details == nil {
		return Absent(), sourceErr(p.DetailsErr)
	}
	return DevActivityOf(p.Details), nil
}

// A registry failure degrades to "not integrated" rather than absent.
func extractEcosystemIntegration(p *Payload) (Value, error) {
	if p.RegistryErr != nil {
		return Some(0), nil
	}
	return EcosystemIntegrationOf(p.Symbol, p.Registry), nil
}

func extractHolderConcentration(p *Payload) (Value, error) {
	if p.Holders == nil {
		return Absent(), sourceErr(p.HoldersErr)
	}
	return HolderConcentrationOf(p.Holders, p.TopHolders)
}

func sourceErr(err error) error {
	if err == nil {
		return ErrSourceUnavailable
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}

// PriceVolatilityOf is the population standard deviation of day-over-day
// fractional returns. Fewer than two prices, or a zero price, gives absent.
func PriceVolatilityOf(prices []float64) Value {
	if len(prices) < 2 {
		return Absent()
	}
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
	}
	return finite(stddev(returns))
}

// MarketCapVolatilityOf is the coefficient of variation (population standard
// deviation over mean) of market caps. Fewer than two caps gives absent.
func MarketCapVolatilityOf(caps []float64) Value {
	if len(caps) < 2 {
		return Absent()
	}
	return finite(stddev(caps) / mean(caps))
}

// LiquidityRatioOf is the mean of the last seven volumes over the mean of
// the last seven market caps. Either series shorter than seven gives absent.
func LiquidityRatioOf(volumes, caps []float64) Value {
	if len(volumes) < LiquidityWindow || len(caps) < LiquidityWindow {
		return Absent()
	}
	v := mean(volumes[len(volumes)-LiquidityWindow:])
	c := mean(caps[len(caps)-LiquidityWindow:])
	return finite(v / c)
}

// AgeYearsOf is the whole days elapsed since genesis divided by 365. A
// missing or unparsable genesis date gives 0, not absent.
func AgeYearsOf(genesis *string, now time.Time) Value {
	if genesis == nil || strings.TrimSpace(*genesis) == "" {
		return Some(0)
	}
	t, err := time.ParseInLocation(GenesisLayout, strings.TrimSpace(*genesis), time.UTC)
	if err != nil {
		return Some(0)
	}
	days := math.Floor(now.UTC().Sub(t).Hours() / 24)
	return Some(days / daysPerYear)
}

// DevActivityOf is the reported four-week commit count, 0 when missing.
func DevActivityOf(d *sources.CoinDetails) Value {
	if d == nil || d.DeveloperData == nil || d.DeveloperData.CommitCount4Weeks == nil {
		return Some(0)
	}
	return Some(float64(*d.DeveloperData.CommitCount4Weeks))
}

// EcosystemIntegrationOf is 1 if symbol case-insensitively matches any
// registry symbol, else 0.
func EcosystemIntegrationOf(symbol string, registry []string) Value {
	for _, s := range registry {
		if strings.EqualFold(strings.TrimSpace(s), symbol) {
			return Some(1)
		}
	}
	return Some(0)
}

// HolderConcentrationOf is the summed balance of the topN largest holders
// over total supply. With no holder records total supply is taken as 1,
// which yields 0.
func HolderConcentrationOf(page *sources.HolderPage, topN int) (Value, error) {
	if page == nil || len(page.Items) == 0 {
		return Some(0), nil
	}

	balances := make([]float64, len(page.Items))
	for i, h := range page.Items {
		b, err := h.BalanceValue()
		if err != nil {
			return Absent(), fmt.Errorf("holder %s: %w", h.Address, err)
		}
		balances[i] = b
	}
	totalSupply, err := page.Items[0].TotalSupplyValue()
	if err != nil {
		return Absent(), err
	}
	if totalSupply <= 0 {
		return Absent(), fmt.Errorf("%w: non-positive total supply", sources.ErrShape)
	}

	sort.SliceStable(balances, func(i, j int) bool { return balances[i] > balances[j] })
	if topN > len(balances) {
		topN = len(balances)
	}
	var top float64
	for _, b := range balances[:topN] {
		top += b
	}
	return Some(top / totalSupply), nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population (ddof=0) standard deviation.
func stddev(xs []float64) float64 {
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func finite(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Absent()
	}
	return Some(v)
}
