package reputation

// Epsilon keeps min-max scaling defined on constant columns.
const Epsilon = 1e-8

// Impute replaces every absent value with the mean of the present values.
// A column with no present values imputes 0. The second result marks which
// positions were imputed.
func Impute(col []Value) ([]float64, []bool) {
	var sum float64
	var n int
	for _, v := range col {
		if x, ok := v.Get(); ok {
			sum += x
			n++
		}
	}
	var fill float64
	if n > 0 {
		fill = sum / float64(n)
	}

	out := make([]float64, len(col))
	imputed := make([]bool, len(col))
	for i, v := range col {
		if x, ok := v.Get(); ok {
			out[i] = x
			continue
		}
		out[i] = fill
		imputed[i] = true
	}
	return out, imputed
}

// MinMax scales xs to [0,1] as (x-min)/(max-min+Epsilon). A constant column
// maps to 0.
func MinMax(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	span := hi - lo + Epsilon
	for i, x := range xs {
		out[i] = (x - lo) / span
	}
	return out
}

// Normalize imputes, scales and, for lower-is-better columns, inverts every
// column of t. The returned rows are in table order and contain no absent
// values.
func Normalize(t *Table) []NormalizedRow {
	out := make([]NormalizedRow, t.Len())
	for i, r := range t.rows {
		out[i].Symbol = r.Symbol
	}

	for _, c := range Columns {
		values, imputed := Impute(t.Column(c))
		scaled := MinMax(values)
		for i, x := range scaled {
			if c.LowerIsBetter() {
				x = 1 - x
			}
			out[i].Values[c] = x
			if imputed[i] {
				out[i].Imputed = append(out[i].Imputed, c)
			}
		}
	}
	return out
}
