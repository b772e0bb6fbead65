package reputation

import "time"

// Sub-score weights. They are fixed and deliberately not re-normalized
// within each sub-score.
const (
	WeightPriceVolatility      = 0.15
	WeightMcapVolatility       = 0.15
	WeightLiquidity            = 0.10
	WeightAge                  = 0.10
	WeightDevActivity          = 0.15
	WeightEcosystemIntegration = 0.10
	WeightHolderConcentration  = 1.0

	WeightMarketStability     = 0.45
	WeightFundamentalStrength = 0.40
	WeightRiskConcentration   = 0.15
)

// MarketStability combines the inverted volatilities and liquidity.
func MarketStability(r *NormalizedRow) float64 {
	return WeightPriceVolatility*r.Get(PriceVolatility) +
		WeightMcapVolatility*r.Get(McapVolatility) +
		WeightLiquidity*r.Get(Liquidity)
}

// FundamentalStrength combines age, development activity and ecosystem
// integration.
func FundamentalStrength(r *NormalizedRow) float64 {
	return WeightAge*r.Get(Age) +
		WeightDevActivity*r.Get(DevActivity) +
		WeightEcosystemIntegration*r.Get(EcosystemIntegration)
}

// RiskConcentration is the inverted holder concentration.
func RiskConcentration(r *NormalizedRow) float64 {
	return WeightHolderConcentration * r.Get(HolderConcentration)
}

// Composite folds the three sub-scores into the reputation score.
func Composite(ms, fs, rc float64) float64 {
	return WeightMarketStability*ms + WeightFundamentalStrength*fs + WeightRiskConcentration*rc
}

// Scorer turns normalized rows into unranked score rows.
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a Scorer stamping rows with the current UTC time.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Score computes the sub-scores and reputation of every row. All rows of one
// call share a single timestamp.
func (s *Scorer) Score(rows []NormalizedRow) []ScoreRow {
	ts := s.now().UTC()
	out := make([]ScoreRow, len(rows))
	for i := range rows {
		r := &rows[i]
		ms := MarketStability(r)
		fs := FundamentalStrength(r)
		rc := RiskConcentration(r)
		out[i] = ScoreRow{
			Symbol:              r.Symbol,
			MarketStability:     ms,
			FundamentalStrength: fs,
			RiskConcentration:   rc,
			ReputationScore:     Composite(ms, fs, rc),
			Timestamp:           ts,
			Imputed:             r.Imputed,
		}
	}
	return out
}
