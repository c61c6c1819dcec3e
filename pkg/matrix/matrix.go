package matrix

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Matrix holds the results of crossing a set of time series (rows) with a set
// of operations (columns). Cells are stored row-major, so every row always has
// one cell per column.
//
// A Matrix is not safe for concurrent mutation; the runner partitions work and
// joins results on a single goroutine.
type Matrix struct {
	rows    []TimeSeries
	columns []Operation
	cells   []Cell

	rowIndex map[int64]int
	colIndex map[int64]int
}

// New crosses rows with columns. Every cell starts Pending.
func New(rows []TimeSeries, columns []Operation) (*Matrix, error) {
	cells := make([]Cell, len(rows)*len(columns))
	for i := range cells {
		cells[i] = PendingCell()
	}
	return FromCells(rows, columns, cells)
}

// FromCells assembles a matrix from an existing row-major cell table and
// validates it. The slices are copied.
func FromCells(rows []TimeSeries, columns []Operation, cells []Cell) (*Matrix, error) {
	if len(cells) != len(rows)*len(columns) {
		return nil, fmt.Errorf("%w: %d cells for %d rows x %d columns",
			ErrCorrupt, len(cells), len(rows), len(columns))
	}

	m := &Matrix{
		rows:    cloneRows(rows),
		columns: cloneColumns(columns),
		cells:   append([]Cell(nil), cells...),
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matrix) index() error {
	m.rowIndex = make(map[int64]int, len(m.rows))
	for i, ts := range m.rows {
		if ts.ID <= 0 {
			return fmt.Errorf("%w: row %d has id %d", ErrInvalidID, i, ts.ID)
		}
		if _, dup := m.rowIndex[ts.ID]; dup {
			return fmt.Errorf("%w: row id %d", ErrDuplicateID, ts.ID)
		}
		m.rowIndex[ts.ID] = i
	}

	m.colIndex = make(map[int64]int, len(m.columns))
	for j, op := range m.columns {
		if op.ID <= 0 {
			return fmt.Errorf("%w: column %d has id %d", ErrInvalidID, j, op.ID)
		}
		if _, dup := m.colIndex[op.ID]; dup {
			return fmt.Errorf("%w: column id %d", ErrDuplicateID, op.ID)
		}
		m.colIndex[op.ID] = j
	}
	return nil
}

// Validate checks every structural invariant: rectangular cell table, unique
// positive ids, series lengths matching data, and consistent cells.
func (m *Matrix) Validate() error {
	if len(m.cells) != len(m.rows)*len(m.columns) {
		return fmt.Errorf("%w: %d cells for %d rows x %d columns",
			ErrCorrupt, len(m.cells), len(m.rows), len(m.columns))
	}
	if len(m.rowIndex) != len(m.rows) || len(m.colIndex) != len(m.columns) {
		return fmt.Errorf("%w: id index out of date", ErrCorrupt)
	}
	for _, ts := range m.rows {
		if ts.Length != len(ts.Data) {
			return fmt.Errorf("%w: series %d declares %d points, has %d",
				ErrLengthMismatch, ts.ID, ts.Length, len(ts.Data))
		}
	}
	for k, c := range m.cells {
		if err := c.Check(); err != nil {
			return fmt.Errorf("cell (row %d, col %d): %w",
				m.rows[k/len(m.columns)].ID, m.columns[k%len(m.columns)].ID, err)
		}
	}
	return nil
}

// NumRows returns the number of time series.
func (m *Matrix) NumRows() int { return len(m.rows) }

// NumColumns returns the number of operations.
func (m *Matrix) NumColumns() int { return len(m.columns) }

// NumCells returns rows x columns.
func (m *Matrix) NumCells() int { return len(m.cells) }

// Row returns the time series at row index i.
func (m *Matrix) Row(i int) TimeSeries { return m.rows[i] }

// Column returns the operation at column index j.
func (m *Matrix) Column(j int) Operation { return m.columns[j] }

// Rows returns a copy of the row set in order.
func (m *Matrix) Rows() []TimeSeries { return cloneRows(m.rows) }

// Columns returns a copy of the column set in order.
func (m *Matrix) Columns() []Operation { return cloneColumns(m.columns) }

// RowIDs returns row ids in row order.
func (m *Matrix) RowIDs() []int64 {
	ids := make([]int64, len(m.rows))
	for i, ts := range m.rows {
		ids[i] = ts.ID
	}
	return ids
}

// ColumnIDs returns column ids in column order.
func (m *Matrix) ColumnIDs() []int64 {
	ids := make([]int64, len(m.columns))
	for j, op := range m.columns {
		ids[j] = op.ID
	}
	return ids
}

// RowIndex returns the row index of a time series id.
func (m *Matrix) RowIndex(id int64) (int, bool) {
	i, ok := m.rowIndex[id]
	return i, ok
}

// ColumnIndex returns the column index of an operation id.
func (m *Matrix) ColumnIndex(id int64) (int, bool) {
	j, ok := m.colIndex[id]
	return j, ok
}

// At returns the cell at (row index, column index).
func (m *Matrix) At(i, j int) Cell {
	return m.cells[i*len(m.columns)+j]
}

// Set writes a whole cell at (row index, column index). Value, quality and
// calc time are replaced together.
func (m *Matrix) Set(i, j int, c Cell) error {
	if i < 0 || i >= len(m.rows) || j < 0 || j >= len(m.columns) {
		return fmt.Errorf("%w: index (%d,%d) outside %dx%d", ErrCorrupt, i, j, len(m.rows), len(m.columns))
	}
	if err := c.Check(); err != nil {
		return err
	}
	m.cells[i*len(m.columns)+j] = c
	return nil
}

// Lookup returns the cell for (row id, column id).
func (m *Matrix) Lookup(rowID, colID int64) (Cell, bool) {
	i, ok := m.rowIndex[rowID]
	if !ok {
		return Cell{}, false
	}
	j, ok := m.colIndex[colID]
	if !ok {
		return Cell{}, false
	}
	return m.At(i, j), true
}

// RowCells returns a copy of row i's cells in column order.
func (m *Matrix) RowCells(i int) []Cell {
	n := len(m.columns)
	return append([]Cell(nil), m.cells[i*n:(i+1)*n]...)
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{
		rows:     cloneRows(m.rows),
		columns:  cloneColumns(m.columns),
		cells:    append([]Cell(nil), m.cells...),
		rowIndex: make(map[int64]int, len(m.rowIndex)),
		colIndex: make(map[int64]int, len(m.colIndex)),
	}
	for k, v := range m.rowIndex {
		c.rowIndex[k] = v
	}
	for k, v := range m.colIndex {
		c.colIndex[k] = v
	}
	return c
}

// Equal reports whether a and b hold the same rows, columns and cells in the
// same order. NaN cell fields compare equal.
func Equal(a, b *Matrix) bool {
	if a.NumRows() != b.NumRows() || a.NumColumns() != b.NumColumns() {
		return false
	}
	for i := range a.rows {
		if !sameSeries(a.rows[i], b.rows[i]) {
			return false
		}
	}
	for j := range a.columns {
		if !sameOperation(a.columns[j], b.columns[j]) {
			return false
		}
	}
	for k := range a.cells {
		if !a.cells[k].SameAs(b.cells[k]) {
			return false
		}
	}
	return true
}

// Fingerprint hashes the row and column id sets, ignoring their order. Two
// matrices with the same fingerprint address the same cells.
func (m *Matrix) Fingerprint() uint64 {
	return Fingerprint(m.RowIDs(), m.ColumnIDs())
}

// Fingerprint hashes id sets independent of their order.
func Fingerprint(rowIDs, colIDs []int64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	write := func(ids []int64) {
		sorted := append([]int64(nil), ids...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })
		binary.BigEndian.PutUint64(buf[:], uint64(len(sorted)))
		d.Write(buf[:])
		for _, id := range sorted {
			binary.BigEndian.PutUint64(buf[:], uint64(id))
			d.Write(buf[:])
		}
	}
	write(rowIDs)
	write(colIDs)
	return d.Sum64()
}

func sameSeries(a, b TimeSeries) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Length != b.Length || len(a.Data) != len(b.Data) {
		return false
	}
	if !sameStrings(a.Keywords, b.Keywords) {
		return false
	}
	for i := range a.Data {
		if !sameFloat(a.Data[i], b.Data[i]) {
			return false
		}
	}
	return true
}

func sameOperation(a, b Operation) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Master == b.Master &&
		a.Output == b.Output && sameStrings(a.Keywords, b.Keywords)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneRows(rows []TimeSeries) []TimeSeries {
	out := make([]TimeSeries, len(rows))
	for i, ts := range rows {
		ts.Keywords = append([]string(nil), ts.Keywords...)
		ts.Data = append([]float64(nil), ts.Data...)
		out[i] = ts
	}
	return out
}

func cloneColumns(cols []Operation) []Operation {
	out := make([]Operation, len(cols))
	for j, op := range cols {
		op.Keywords = append([]string(nil), op.Keywords...)
		out[j] = op
	}
	return out
}
