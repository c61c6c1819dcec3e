package merge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfeat/pkg/matrix"
)

const (
	colX int64 = 101
	colY int64 = 102
	colZ int64 = 103
)

func build(t *testing.T, rows []matrix.TimeSeries, cols []int64, fill func(rowID, colID int64) matrix.Cell) *matrix.Matrix {
	t.Helper()
	ops := make([]matrix.Operation, len(cols))
	for j, id := range cols {
		ops[j] = matrix.Operation{ID: id, Name: "op", Master: "mean"}
	}
	m, err := matrix.New(rows, ops)
	require.NoError(t, err)
	for i, ts := range rows {
		for j, id := range cols {
			require.NoError(t, m.Set(i, j, fill(ts.ID, id)))
		}
	}
	return m
}

func ts(id int64, name string) matrix.TimeSeries {
	return matrix.TimeSeries{ID: id, Name: name, Length: 2, Data: []float64{float64(id), 1}}
}

func good(v float64) func(int64, int64) matrix.Cell {
	return func(rowID, colID int64) matrix.Cell {
		return matrix.GoodCell(v+float64(rowID)*10+float64(colID), 0.01)
	}
}

func TestCombine_UnionIntersection(t *testing.T) {
	a := build(t, []matrix.TimeSeries{ts(1, "a1"), ts(2, "a2"), ts(3, "a3")}, []int64{colX, colY}, good(0))
	b := build(t, []matrix.TimeSeries{ts(3, "b3"), ts(4, "b4")}, []int64{colY, colZ}, good(0.5))

	m, rep, err := Combine(a, b, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, m.RowIDs())
	assert.Equal(t, []int64{colY}, m.ColumnIDs())
	assert.Equal(t, []int64{3}, rep.Duplicates)
	assert.Equal(t, []int64{colX}, rep.DroppedColumnsA)
	assert.Equal(t, []int64{colZ}, rep.DroppedColumnsB)
	assert.Equal(t, 4, rep.Rows)
	assert.Equal(t, 1, rep.Columns)
	assert.Empty(t, rep.Renumbered)

	// Row 4 comes from B, row 3 from A.
	c, ok := m.Lookup(4, colY)
	require.True(t, ok)
	assert.Equal(t, 0.5+40+float64(colY), c.Value)
	c, ok = m.Lookup(3, colY)
	require.True(t, ok)
	assert.Equal(t, 30+float64(colY), c.Value)
}

func TestCombine_FirstInputWins(t *testing.T) {
	a := build(t, []matrix.TimeSeries{ts(3, "from-a")}, []int64{colY}, func(int64, int64) matrix.Cell {
		return matrix.PendingCell()
	})
	b := build(t, []matrix.TimeSeries{ts(3, "from-b")}, []int64{colY}, good(0))

	m, rep, err := Combine(a, b, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 1, m.NumRows())
	assert.Equal(t, "from-a", m.Row(0).Name)
	assert.Equal(t, matrix.Pending, m.At(0, 0).Quality, "A's cell wins even when pending")
	assert.Equal(t, []int64{3}, rep.Conflicts)
}

func TestCombine_ColumnMetadataFromA(t *testing.T) {
	a := build(t, []matrix.TimeSeries{ts(1, "a")}, []int64{colY}, good(0))
	b := build(t, []matrix.TimeSeries{ts(2, "b")}, []int64{colY}, good(0))

	bCols := b.Columns()
	bCols[0].Name = "renamed"
	b, err := matrix.FromCells(b.Rows(), bCols, b.RowCells(0))
	require.NoError(t, err)

	m, _, err := Combine(a, b, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "op", m.Column(0).Name)
}

func TestCombine_UnrelatedIdentitySpaces(t *testing.T) {
	a := build(t, []matrix.TimeSeries{ts(1, "a1"), ts(2, "a2")}, []int64{colX, colY}, good(0))
	b := build(t, []matrix.TimeSeries{ts(2, "b2"), ts(9, "b9")}, []int64{colX}, good(0.5))

	m, rep, err := Combine(a, b, Options{CompareIDs: false})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, m.RowIDs())
	assert.Empty(t, rep.Duplicates)
	assert.Equal(t, []Renumbered{
		{Source: SourceA, OldID: 1, NewID: 1},
		{Source: SourceA, OldID: 2, NewID: 2},
		{Source: SourceB, OldID: 2, NewID: 3},
		{Source: SourceB, OldID: 9, NewID: 4},
	}, rep.Renumbered)
	assert.Equal(t, "b2", m.Row(2).Name)

	c, ok := m.Lookup(3, colX)
	require.True(t, ok)
	assert.Equal(t, 0.5+20+float64(colX), c.Value)
}

func TestCombine_NoOverlappingOperations(t *testing.T) {
	a := build(t, []matrix.TimeSeries{ts(1, "a")}, []int64{colX}, good(0))
	b := build(t, []matrix.TimeSeries{ts(2, "b")}, []int64{colZ}, good(0))

	m, rep, err := Combine(a, b, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoOverlappingOperations)
	assert.Nil(t, m)
	assert.Nil(t, rep)
}

func TestCombine_InputsUntouched(t *testing.T) {
	a := build(t, []matrix.TimeSeries{ts(1, "a"), ts(3, "a3")}, []int64{colX, colY}, func(r, c int64) matrix.Cell {
		return matrix.ErrorCell(matrix.ReasonUnexpected, math.NaN(), math.NaN())
	})
	b := build(t, []matrix.TimeSeries{ts(3, "b3")}, []int64{colY}, good(0))
	aBefore, bBefore := a.Clone(), b.Clone()

	m, _, err := Combine(a, b, Options{CompareIDs: false})
	require.NoError(t, err)
	require.NoError(t, m.Set(0, 0, matrix.GoodCell(1, 0)))

	assert.True(t, matrix.Equal(aBefore, a))
	assert.True(t, matrix.Equal(bBefore, b))
}
