package reputation

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRow = errors.New("reputation: duplicate row")
	ErrUnknownAsset = errors.New("reputation: row for unconfigured asset")
)

// Table maps asset symbols to raw rows in configuration order. Every asset
// present has exactly one row; excluded assets have none.
type Table struct {
	rows []RawRow
}

// BuildTable assembles the rows of successfully processed assets in the
// order the assets are configured. Assets with no row were excluded and are
// skipped; they are never represented with an all-absent row.
func BuildTable(assets []Asset, rows []RawRow) (*Table, error) {
	configured := make(map[string]bool, len(assets))
	for _, a := range assets {
		configured[a.Symbol] = true
	}

	bySymbol := make(map[string]RawRow, len(rows))
	for _, r := range rows {
		if !configured[r.Symbol] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, r.Symbol)
		}
		if _, dup := bySymbol[r.Symbol]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRow, r.Symbol)
		}
		bySymbol[r.Symbol] = r
	}

	t := &Table{rows: make([]RawRow, 0, len(bySymbol))}
	for _, a := range assets {
		if r, ok := bySymbol[a.Symbol]; ok {
			t.rows = append(t.rows, r)
		}
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Column returns column c across all rows, in table order.
func (t *Table) Column(c Column) []Value {
	out := make([]Value, len(t.rows))
	for i := range t.rows {
		out[i] = t.rows[i].Get(c)
	}
	return out
}
