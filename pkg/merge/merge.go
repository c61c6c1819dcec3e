// Package merge combines two independently computed result matrices.
//
// Rows are the union of both inputs, columns the intersection. Where a time
// series appears in both, the first input's row metadata and cells win.
// Inputs are never modified; a failed merge produces nothing.
package merge

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nicktill/tinyfeat/pkg/matrix"
)

// ErrNoOverlappingOperations is returned when the inputs share no operation.
var ErrNoOverlappingOperations = errors.New("merge: no overlapping operations")

// Options configures Combine.
type Options struct {
	// CompareIDs treats equal time series ids in both inputs as the same
	// series and keeps one copy. When false the id spaces are unrelated:
	// every row is kept and rows are renumbered 1..N, first input first.
	CompareIDs bool

	Logger *slog.Logger
}

// DefaultOptions compares ids.
func DefaultOptions() Options {
	return Options{CompareIDs: true}
}

// Source names an input.
type Source string

const (
	SourceA Source = "a"
	SourceB Source = "b"
)

// Renumbered maps an input row id to its id in the merged matrix.
type Renumbered struct {
	Source Source `json:"source"`
	OldID  int64  `json:"old_id"`
	NewID  int64  `json:"new_id"`
}

// Report describes what Combine kept and dropped.
type Report struct {
	RowsA    int `json:"rows_a"`
	RowsB    int `json:"rows_b"`
	Rows     int `json:"rows"`
	ColumnsA int `json:"columns_a"`
	ColumnsB int `json:"columns_b"`
	Columns  int `json:"columns"`

	// Duplicates are time series ids found in both inputs; A's copy was kept.
	Duplicates []int64 `json:"duplicates,omitempty"`

	// Conflicts are the duplicates whose metadata differed between inputs.
	Conflicts []int64 `json:"conflicts,omitempty"`

	// DroppedColumnsA and DroppedColumnsB list operations present in one input only.
	DroppedColumnsA []int64 `json:"dropped_columns_a,omitempty"`
	DroppedColumnsB []int64 `json:"dropped_columns_b,omitempty"`

	// Renumbered is filled when CompareIDs is false.
	Renumbered []Renumbered `json:"renumbered,omitempty"`
}

// Combine merges a and b into a new matrix.
func Combine(a, b *matrix.Matrix, opts Options) (*matrix.Matrix, *Report, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	rep := &Report{
		RowsA:    a.NumRows(),
		RowsB:    b.NumRows(),
		ColumnsA: a.NumColumns(),
		ColumnsB: b.NumColumns(),
	}

	// Columns: intersection by id, in A's order, with A's metadata.
	var cols []matrix.Operation
	for j := 0; j < a.NumColumns(); j++ {
		op := a.Column(j)
		if _, ok := b.ColumnIndex(op.ID); ok {
			cols = append(cols, op)
		} else {
			rep.DroppedColumnsA = append(rep.DroppedColumnsA, op.ID)
		}
	}
	for j := 0; j < b.NumColumns(); j++ {
		if _, ok := a.ColumnIndex(b.Column(j).ID); !ok {
			rep.DroppedColumnsB = append(rep.DroppedColumnsB, b.Column(j).ID)
		}
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("%w: %d operations in a, %d in b", ErrNoOverlappingOperations, a.NumColumns(), b.NumColumns())
	}
	rep.Columns = len(cols)

	// Rows: every row of A, then B's rows not already present.
	type rowRef struct {
		src *matrix.Matrix
		i   int
	}
	var rows []matrix.TimeSeries
	var refs []rowRef
	for i := 0; i < a.NumRows(); i++ {
		rows = append(rows, a.Row(i))
		refs = append(refs, rowRef{src: a, i: i})
	}
	for i := 0; i < b.NumRows(); i++ {
		ts := b.Row(i)
		if opts.CompareIDs {
			if ai, dup := a.RowIndex(ts.ID); dup {
				rep.Duplicates = append(rep.Duplicates, ts.ID)
				if !sameMetadata(a.Row(ai), ts) {
					rep.Conflicts = append(rep.Conflicts, ts.ID)
				}
				continue
			}
		}
		rows = append(rows, ts)
		refs = append(refs, rowRef{src: b, i: i})
	}

	if !opts.CompareIDs {
		for k := range rows {
			src := SourceA
			if refs[k].src == b {
				src = SourceB
			}
			newID := int64(k + 1)
			rep.Renumbered = append(rep.Renumbered, Renumbered{Source: src, OldID: rows[k].ID, NewID: newID})
			rows[k].ID = newID
		}
	}
	rep.Rows = len(rows)

	cells := make([]matrix.Cell, 0, len(rows)*len(cols))
	for _, ref := range refs {
		for _, op := range cols {
			j, _ := ref.src.ColumnIndex(op.ID)
			cells = append(cells, ref.src.At(ref.i, j))
		}
	}

	m, err := matrix.FromCells(rows, cols, cells)
	if err != nil {
		return nil, nil, fmt.Errorf("merged matrix invalid: %w", err)
	}

	if len(rep.Conflicts) > 0 {
		log.Warn("duplicate time series differ between inputs, kept first input's copy",
			slog.Any("ids", rep.Conflicts))
	}
	log.Info("matrices merged",
		slog.Int("rows", rep.Rows),
		slog.Int("columns", rep.Columns),
		slog.Int("duplicates", len(rep.Duplicates)),
		slog.Int("dropped_columns", len(rep.DroppedColumnsA)+len(rep.DroppedColumnsB)))
	return m, rep, nil
}

func sameMetadata(x, y matrix.TimeSeries) bool {
	return x.Name == y.Name &&
		x.Length == y.Length &&
		slices.Equal(x.Keywords, y.Keywords) &&
		slices.EqualFunc(x.Data, y.Data, func(p, q float64) bool {
			return p == q || (p != p && q != q)
		})
}
