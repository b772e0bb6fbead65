package reputation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csking101/Sentinel-Protocol/internal/sources"
)

func strptr(s string) *string { return &s }
func intptr(i int) *int       { return &i }

func series(values ...float64) []sources.Point {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]sources.Point, len(values))
	for i, v := range values {
		out[i] = sources.Point{Time: start.AddDate(0, 0, i), Value: v}
	}
	return out
}

func assertValue(t *testing.T, want float64, got Value, msgAndArgs ...any) {
	t.Helper()
	v, ok := got.Get()
	require.True(t, ok, "expected a present value")
	assert.InDelta(t, want, v, 1e-9, msgAndArgs...)
}

func TestPriceVolatilityOf(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   float64
		absent bool
	}{
		{name: "symmetric returns", prices: []float64{100, 110, 99}, want: 0.1},
		{name: "flat", prices: []float64{5, 5, 5, 5}, want: 0},
		{name: "single observation", prices: []float64{100}, absent: true},
		{name: "empty", absent: true},
		{name: "zero price", prices: []float64{0, 1}, absent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriceVolatilityOf(tt.prices)
			if tt.absent {
				assert.False(t, got.Present())
				return
			}
			assertValue(t, tt.want, got)
		})
	}
}

func TestMarketCapVolatilityOf(t *testing.T) {
	assertValue(t, 0.5, MarketCapVolatilityOf([]float64{1, 3}))
	assertValue(t, 0, MarketCapVolatilityOf([]float64{7, 7, 7}))
	assert.False(t, MarketCapVolatilityOf([]float64{1}).Present())
	assert.False(t, MarketCapVolatilityOf([]float64{0, 0}).Present())
}

func TestLiquidityRatioOf(t *testing.T) {
	volumes := []float64{999, 999, 10, 10, 10, 10, 10, 10, 10}
	caps := []float64{1, 1, 100, 100, 100, 100, 100, 100, 100}
	assertValue(t, 0.1, LiquidityRatioOf(volumes, caps))

	assert.False(t, LiquidityRatioOf(volumes[:6], caps).Present(), "six volumes is not enough")
	assert.False(t, LiquidityRatioOf(volumes, caps[:6]).Present(), "six caps is not enough")
}

func TestAgeYearsOf(t *testing.T) {
	now := time.Date(2020, 12, 31, 12, 0, 0, 0, time.UTC)

	assertValue(t, 1.0, AgeYearsOf(strptr("2020-01-01"), now))
	assertValue(t, 0, AgeYearsOf(strptr("2020-12-31"), now), "partial days do not count")
	assertValue(t, 0, AgeYearsOf(nil, now))
	assertValue(t, 0, AgeYearsOf(strptr(""), now))
	assertValue(t, 0, AgeYearsOf(strptr("not-a-date"), now))
}

func TestDevActivityOf(t *testing.T) {
	assertValue(t, 42, DevActivityOf(&sources.CoinDetails{DeveloperData: &sources.DeveloperData{CommitCount4Weeks: intptr(42)}}))
	assertValue(t, 0, DevActivityOf(&sources.CoinDetails{}))
	assertValue(t, 0, DevActivityOf(&sources.CoinDetails{DeveloperData: &sources.DeveloperData{}}))
}

func TestEcosystemIntegrationOf(t *testing.T) {
	registry := []string{"AAVE", "LDO", " uni "}
	assertValue(t, 1, EcosystemIntegrationOf("aave", registry))
	assertValue(t, 1, EcosystemIntegrationOf("UNI", registry))
	assertValue(t, 0, EcosystemIntegrationOf("ETH", registry))
	assertValue(t, 0, EcosystemIntegrationOf("ETH", nil))
}

func TestHolderConcentrationOf(t *testing.T) {
	page := &sources.HolderPage{Items: []sources.Holder{
		{Address: "0x1", Balance: "100", TotalSupply: "1000"},
		{Address: "0x2", Balance: "600", TotalSupply: "1000"},
		{Address: "0x3", Balance: "300", TotalSupply: "1000"},
	}}

	got, err := HolderConcentrationOf(page, 2)
	require.NoError(t, err)
	assertValue(t, 0.9, got)

	got, err = HolderConcentrationOf(page, 10)
	require.NoError(t, err)
	assertValue(t, 1.0, got)

	t.Run("no holders", func(t *testing.T) {
		got, err := HolderConcentrationOf(&sources.HolderPage{}, 10)
		require.NoError(t, err)
		assertValue(t, 0, got)
	})

	t.Run("bad balance", func(t *testing.T) {
		bad := &sources.HolderPage{Items: []sources.Holder{{Address: "0x1", Balance: "many", TotalSupply: "1"}}}
		got, err := HolderConcentrationOf(bad, 10)
		assert.ErrorIs(t, err, sources.ErrShape)
		assert.False(t, got.Present())
	})

	t.Run("zero supply", func(t *testing.T) {
		zero := &sources.HolderPage{Items: []sources.Holder{{Address: "0x1", Balance: "1", TotalSupply: "0"}}}
		_, err := HolderConcentrationOf(zero, 10)
		assert.ErrorIs(t, err, sources.ErrShape)
	})
}

func TestExtractRow_PartialFailure(t *testing.T) {
	chartErr := errors.New("coingecko down")
	p := &Payload{
		Symbol:     "AAVE",
		ChartErr:   chartErr,
		Details:    &sources.CoinDetails{GenesisDate: strptr("2020-10-02"), DeveloperData: &sources.DeveloperData{CommitCount4Weeks: intptr(12)}},
		Holders:    &sources.HolderPage{Items: []sources.Holder{{Address: "0x1", Balance: "5", TotalSupply: "10"}}},
		Registry:   []string{"AAVE"},
		TopHolders: 10,
		Now:        time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC),
	}

	row, errs := ExtractRow(p)
	assert.Equal(t, "AAVE", row.Symbol)
	assert.Equal(t, []Column{PriceVolatility, McapVolatility, Liquidity}, row.Absent())

	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.Equal(t, "AAVE", e.Symbol)
		assert.ErrorIs(t, e, ErrSourceUnavailable)
		assert.ErrorContains(t, e, "coingecko down")
	}

	assertValue(t, 12, row.Get(DevActivity))
	assertValue(t, 1, row.Get(EcosystemIntegration))
	assertValue(t, 0.5, row.Get(HolderConcentration))
}

func TestExtractRow_RegistryFailureDegradesToZero(t *testing.T) {
	p := &Payload{
		Symbol:      "AAVE",
		Chart:       &sources.MarketChart{Prices: series(1, 2), MarketCaps: series(1, 2)},
		Details:     &sources.CoinDetails{},
		HoldersErr:  sources.ErrMissingAPIKey,
		Registry:    []string{"AAVE"},
		RegistryErr: errors.New("llama unreachable"),
		Now:         time.Now(),
	}

	row, errs := ExtractRow(p)
	assertValue(t, 0, row.Get(EcosystemIntegration))
	assert.Equal(t, []Column{Liquidity, HolderConcentration}, row.Absent())

	require.Len(t, errs, 1, "short liquidity history is absent without an error")
	assert.Equal(t, HolderConcentration, errs[0].Column)
	assert.ErrorIs(t, errs[0], sources.ErrMissingAPIKey)
}
