package reputation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// CSV column names. The score columns are also the publication input.
const (
	ColRank                = "rank"
	ColToken               = "token"
	ColMarketStability     = "Market_Stability"
	ColFundamentalStrength = "Fundamental_Strength"
	ColRiskConcentration   = "Risk_Concentration"
	ColReputationScore     = "Reputation_Score"
	ColTimestamp           = "timestamp"
	ColStatus              = "status"
	ColImputed             = "imputed"
)

// CSVHeader is the header written by WriteCSV.
var CSVHeader = []string{
	ColRank, ColToken,
	ColMarketStability, ColFundamentalStrength, ColRiskConcentration, ColReputationScore,
	ColTimestamp, ColStatus, ColImputed,
}

var ErrCSVHeader = errors.New("reputation: csv header missing required column")

// WriteCSV writes the report's ranked scores followed by its excluded
// assets. Excluded rows carry the reason in the imputed column's place and
// leave the numeric fields empty.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, s := range r.Scores {
		rec := []string{
			strconv.Itoa(s.Rank),
			s.Symbol,
			formatScore(s.MarketStability),
			formatScore(s.FundamentalStrength),
			formatScore(s.RiskConcentration),
			formatScore(s.ReputationScore),
			s.Timestamp.UTC().Format(time.RFC3339),
			string(StatusScored),
			joinColumns(s.Imputed),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	for _, o := range r.Excluded() {
		rec := []string{"", o.Symbol, "", "", "", "", "", string(StatusExcluded), o.Reason}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadScoresCSV reads score rows back from a CSV carrying at least the token
// and the four score columns. Rows without scores (excluded assets) are
// skipped. Rank and timestamp are read when present.
func ReadScoresCSV(r io.Reader) ([]ScoreRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{ColToken, ColMarketStability, ColFundamentalStrength, ColRiskConcentration, ColReputationScore} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCSVHeader, col)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []ScoreRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if field(rec, ColStatus) == string(StatusExcluded) || field(rec, ColReputationScore) == "" {
			continue
		}

		row := ScoreRow{Symbol: field(rec, ColToken)}
		for _, f := range []struct {
			col string
			dst *float64
		}{
			{ColMarketStability, &row.MarketStability},
			{ColFundamentalStrength, &row.FundamentalStrength},
			{ColRiskConcentration, &row.RiskConcentration},
			{ColReputationScore, &row.ReputationScore},
		} {
			v, err := strconv.ParseFloat(field(rec, f.col), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d %s: %w", line, f.col, err)
			}
			*f.dst = v
		}
		if s := field(rec, ColRank); s != "" {
			if row.Rank, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("csv line %d %s: %w", line, ColRank, err)
			}
		}
		if s := field(rec, ColTimestamp); s != "" {
			if row.Timestamp, err = time.Parse(time.RFC3339, s); err != nil {
				return nil, fmt.Errorf("csv line %d %s: %w", line, ColTimestamp, err)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinColumns(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.String()
	}
	return strings.Join(names, ";")
}
