package reputation

import "sort"

// Rank orders rows by reputation score, highest first, and assigns 1-based
// ranks. Ties keep their input order, so equal inputs always rank the same.
// The input slice is not modified.
func Rank(rows []ScoreRow) []ScoreRow {
	out := make([]ScoreRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReputationScore > out[j].ReputationScore
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
