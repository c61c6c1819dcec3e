package matrix

import (
	"fmt"
	"sort"
	"strings"
)

// Which picks the cells a batch should (re)compute by their current quality.
type Which string

const (
	WhichMissing Which = "missing" // Pending only
	WhichErrors  Which = "error"   // Error only
	WhichBoth    Which = "both"    // Pending or Error
	WhichAll     Which = "all"     // every cell, Good included
)

// ParseWhich validates a selection mode. Empty means WhichMissing.
func ParseWhich(s string) (Which, error) {
	switch Which(strings.ToLower(s)) {
	case "", WhichMissing:
		return WhichMissing, nil
	case WhichErrors:
		return WhichErrors, nil
	case WhichBoth:
		return WhichBoth, nil
	case WhichAll:
		return WhichAll, nil
	default:
		return "", fmt.Errorf("unknown selection %q (want missing, error, both or all)", s)
	}
}

func (w Which) matches(q Quality) bool {
	switch w {
	case WhichAll:
		return true
	case WhichErrors:
		return q == Error
	case WhichBoth:
		return q == Pending || q == Error
	default:
		return q == Pending
	}
}

// Filter restricts a selection. Empty id lists mean no restriction.
type Filter struct {
	Which     Which
	RowIDs    []int64
	ColumnIDs []int64
}

// Index addresses one cell by row and column index.
type Index struct {
	Row int
	Col int
}

// Select returns the cells matching f in row-major order. Unknown ids are
// reported as ErrUnknownRow / ErrUnknownColumn.
func (m *Matrix) Select(f Filter) ([]Index, error) {
	rows, err := m.rowIndices(f.RowIDs)
	if err != nil {
		return nil, err
	}
	cols, err := m.columnIndices(f.ColumnIDs)
	if err != nil {
		return nil, err
	}

	var out []Index
	for _, i := range rows {
		for _, j := range cols {
			if f.Which.matches(m.At(i, j).Quality) {
				out = append(out, Index{Row: i, Col: j})
			}
		}
	}
	return out, nil
}

func (m *Matrix) rowIndices(ids []int64) ([]int, error) {
	if len(ids) == 0 {
		out := make([]int, len(m.rows))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		i, ok := m.rowIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownRow, id)
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *Matrix) columnIndices(ids []int64) ([]int, error) {
	if len(ids) == 0 {
		out := make([]int, len(m.columns))
		for j := range out {
			out[j] = j
		}
		return out, nil
	}
	out := make([]int, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		j, ok := m.colIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownColumn, id)
		}
		if !seen[j] {
			seen[j] = true
			out = append(out, j)
		}
	}
	return out, nil
}

// Subset returns a new matrix restricted to the given row and column ids, in
// the receiver's order. Empty id lists keep every row (or column).
func (m *Matrix) Subset(rowIDs, colIDs []int64) (*Matrix, error) {
	rows, err := m.rowIndices(rowIDs)
	if err != nil {
		return nil, err
	}
	cols, err := m.columnIndices(colIDs)
	if err != nil {
		return nil, err
	}
	return m.take(sortedInts(rows), sortedInts(cols))
}

// RemoveRows returns a new matrix without the given row ids.
func (m *Matrix) RemoveRows(ids ...int64) (*Matrix, error) {
	drop, err := m.rowIndices(ids)
	if err != nil {
		return nil, err
	}
	return m.take(complement(len(m.rows), drop), complement(len(m.columns), nil))
}

// RemoveColumns returns a new matrix without the given column ids.
func (m *Matrix) RemoveColumns(ids ...int64) (*Matrix, error) {
	drop, err := m.columnIndices(ids)
	if err != nil {
		return nil, err
	}
	return m.take(complement(len(m.rows), nil), complement(len(m.columns), drop))
}

// Clear returns a new matrix where the selected cells are reset to Pending.
func (m *Matrix) Clear(f Filter) (*Matrix, int, error) {
	idx, err := m.Select(f)
	if err != nil {
		return nil, 0, err
	}
	out := m.Clone()
	for _, ix := range idx {
		out.cells[ix.Row*len(out.columns)+ix.Col] = PendingCell()
	}
	return out, len(idx), nil
}

func (m *Matrix) take(rows, cols []int) (*Matrix, error) {
	ts := make([]TimeSeries, len(rows))
	for a, i := range rows {
		ts[a] = m.rows[i]
	}
	ops := make([]Operation, len(cols))
	for b, j := range cols {
		ops[b] = m.columns[j]
	}
	cells := make([]Cell, 0, len(rows)*len(cols))
	for _, i := range rows {
		for _, j := range cols {
			cells = append(cells, m.At(i, j))
		}
	}
	return FromCells(ts, ops, cells)
}

func complement(n int, drop []int) []int {
	skip := make(map[int]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]int, 0, n-len(skip))
	for i := 0; i < n; i++ {
		if !skip[i] {
			out = append(out, i)
		}
	}
	return out
}

func sortedInts(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}
