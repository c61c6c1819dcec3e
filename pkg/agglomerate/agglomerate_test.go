package agglomerate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfeat/pkg/matrix"
)

type key struct{ row, col int64 }

// fakeRemote is an in-memory canonical store.
type fakeRemote struct {
	rows   map[int64]bool
	cols   map[int64]bool
	cells  map[key]matrix.Cell
	writes []key

	failOn   *key
	closed   int
	closeErr error
}

func newFakeRemote(local *matrix.Matrix) *fakeRemote {
	f := &fakeRemote{
		rows:  make(map[int64]bool),
		cols:  make(map[int64]bool),
		cells: make(map[key]matrix.Cell),
	}
	for _, id := range local.RowIDs() {
		f.rows[id] = true
	}
	for _, id := range local.ColumnIDs() {
		f.cols[id] = true
	}
	for r := range f.rows {
		for c := range f.cols {
			f.cells[key{r, c}] = matrix.PendingCell()
		}
	}
	return f
}

func (f *fakeRemote) CountRows(_ context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		if f.rows[id] {
			n++
		}
	}
	return n, nil
}

func (f *fakeRemote) CountColumns(_ context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		if f.cols[id] {
			n++
		}
	}
	return n, nil
}

func (f *fakeRemote) QueryCells(_ context.Context, mode Mode, rowIDs, colIDs []int64) ([]Candidate, error) {
	var out []Candidate
	for _, r := range rowIDs {
		for _, c := range colIDs {
			cell, ok := f.cells[key{r, c}]
			if ok && mode.Matches(cell.Quality) {
				out = append(out, Candidate{RowID: r, ColumnID: c, Quality: cell.Quality})
			}
		}
	}
	return out, nil
}

func (f *fakeRemote) WriteCell(_ context.Context, rowID, colID int64, c matrix.Cell) error {
	k := key{rowID, colID}
	if f.failOn != nil && *f.failOn == k {
		return errors.New("connection reset")
	}
	f.cells[k] = c
	f.writes = append(f.writes, k)
	return nil
}

func (f *fakeRemote) Close() error {
	f.closed++
	return f.closeErr
}

func local(t *testing.T, rows, cols []int64) *matrix.Matrix {
	t.Helper()
	ts := make([]matrix.TimeSeries, len(rows))
	for i, id := range rows {
		ts[i] = matrix.TimeSeries{ID: id, Name: "ts", Length: 1, Data: []float64{1}}
	}
	ops := make([]matrix.Operation, len(cols))
	for j, id := range cols {
		ops[j] = matrix.Operation{ID: id, Name: "op", Master: "mean"}
	}
	m, err := matrix.New(ts, ops)
	require.NoError(t, err)
	return m
}

func set(t *testing.T, m *matrix.Matrix, rowID, colID int64, c matrix.Cell) {
	t.Helper()
	i, ok := m.RowIndex(rowID)
	require.True(t, ok)
	j, ok := m.ColumnIndex(colID)
	require.True(t, ok)
	require.NoError(t, m.Set(i, j, c))
}

func TestRun_NullFill(t *testing.T) {
	m := local(t, []int64{7}, []int64{9})
	set(t, m, 7, 9, matrix.GoodCell(3.14, 0.02))
	remote := newFakeRemote(m)

	rep, err := Run(context.Background(), m, remote, ModeNull, Options{})
	require.NoError(t, err)

	got := remote.cells[key{7, 9}]
	assert.Equal(t, matrix.Good, got.Quality)
	assert.Equal(t, 3.14, got.Value)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Written)
	assert.Equal(t, 1, remote.closed)
}

func TestRun_NeverOverwritesErrorWithError(t *testing.T) {
	m := local(t, []int64{5}, []int64{2})
	set(t, m, 5, 2, matrix.ErrorCell(matrix.ReasonUnexpected, math.NaN(), math.NaN()))
	remote := newFakeRemote(m)
	before := matrix.ErrorCell(matrix.ReasonPrecondition, math.NaN(), 0.5)
	remote.cells[key{5, 2}] = before

	rep, err := Run(context.Background(), m, remote, ModeError, Options{})
	require.NoError(t, err)

	assert.True(t, before.SameAs(remote.cells[key{5, 2}]), "remote error must be unchanged")
	assert.Empty(t, remote.writes)
	assert.Equal(t, 0, rep.Written)
	assert.Equal(t, 1, rep.LeftPending)
}

func TestRun_Modes(t *testing.T) {
	build := func(t *testing.T) (*matrix.Matrix, *fakeRemote) {
		m := local(t, []int64{1, 2}, []int64{10, 20})
		set(t, m, 1, 10, matrix.GoodCell(1, 0))
		set(t, m, 1, 20, matrix.GoodCell(2, 0))
		set(t, m, 2, 10, matrix.GoodCell(3, 0))
		set(t, m, 2, 20, matrix.ErrorCell(matrix.ReasonPrecondition, math.NaN(), 0))

		remote := newFakeRemote(m)
		remote.cells[key{1, 20}] = matrix.ErrorCell(matrix.ReasonTimeout, math.NaN(), 9)
		remote.cells[key{2, 10}] = matrix.GoodCell(99, 0)
		remote.cells[key{2, 20}] = matrix.ErrorCell(matrix.ReasonPrecondition, math.NaN(), 0)
		return m, remote
	}

	tests := []struct {
		mode        Mode
		candidates  int
		written     []key
		leftPending int
	}{
		{ModeNull, 1, []key{{1, 10}}, 0},
		{ModeError, 2, []key{{1, 20}}, 1},
		{ModeNullError, 3, []key{{1, 10}, {1, 20}}, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			m, remote := build(t)
			rep, err := Run(context.Background(), m, remote, tt.mode, Options{})
			require.NoError(t, err)

			assert.Equal(t, tt.candidates, rep.Candidates)
			assert.Equal(t, tt.written, remote.writes)
			assert.Equal(t, len(tt.written), rep.Written)
			assert.Equal(t, tt.leftPending, rep.LeftPending)
			assert.Equal(t, 99.0, remote.cells[key{2, 10}].Value, "good remote cells are never candidates")
		})
	}
}

func TestRun_SkipsLocalNonGoodOverNull(t *testing.T) {
	m := local(t, []int64{1, 2}, []int64{10})
	set(t, m, 1, 10, matrix.ErrorCell(matrix.ReasonSpecialValue, math.Inf(1), 0))
	remote := newFakeRemote(m)

	rep, err := Run(context.Background(), m, remote, ModeNull, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
	assert.Equal(t, 2, rep.Skipped)
	assert.Empty(t, remote.writes)
}

func TestRun_IdentityDrift(t *testing.T) {
	m := local(t, []int64{1, 2, 3}, []int64{10})
	for _, id := range []int64{1, 2, 3} {
		set(t, m, id, 10, matrix.GoodCell(1, 0))
	}
	remote := newFakeRemote(m)
	delete(remote.rows, 3)

	rep, err := Run(context.Background(), m, remote, ModeNull, Options{})
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.True(t, errors.Is(err, ErrIdentityDrift))

	var drift *DriftError
	require.True(t, errors.As(err, &drift))
	assert.Equal(t, 3, drift.LocalRows)
	assert.Equal(t, 2, drift.RemoteRows)
	assert.Equal(t, m.Fingerprint(), drift.Fingerprint)

	assert.Empty(t, remote.writes)
	assert.Equal(t, 1, remote.closed)
}

func TestRun_WriteFailureIsFatal(t *testing.T) {
	m := local(t, []int64{1, 2, 3}, []int64{10})
	for _, id := range []int64{1, 2, 3} {
		set(t, m, id, 10, matrix.GoodCell(float64(id), 0))
	}
	remote := newFakeRemote(m)
	remote.failOn = &key{2, 10}

	var progress []int
	rep, err := Run(context.Background(), m, remote, ModeNull, Options{
		OnProgress: func(r Report) { progress = append(progress, r.Written) },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteWrite)

	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, int64(2), werr.RowID)

	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.Written)
	assert.Equal(t, []key{{1, 10}}, remote.writes, "no write after the failure")
	assert.Equal(t, []int{1}, progress)
	assert.Equal(t, 1, remote.closed)
}

func TestRun_InvalidModeStillCloses(t *testing.T) {
	m := local(t, []int64{1}, []int64{1})
	remote := newFakeRemote(m)

	_, err := Run(context.Background(), m, remote, Mode("sometimes"), Options{})
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, 1, remote.closed)
}

func TestRun_CloseErrorSurfaces(t *testing.T) {
	m := local(t, []int64{1}, []int64{1})
	remote := newFakeRemote(m)
	remote.closeErr = errors.New("busy")

	_, err := Run(context.Background(), m, remote, ModeNull, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
}

func TestRun_Cancelled(t *testing.T) {
	m := local(t, []int64{1}, []int64{1})
	set(t, m, 1, 1, matrix.GoodCell(1, 0))
	remote := newFakeRemote(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, m, remote, ModeNull, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, remote.writes)
	assert.Equal(t, 1, remote.closed)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("NullError")
	require.NoError(t, err)
	assert.Equal(t, ModeNullError, m)

	_, err = ParseMode("")
	assert.ErrorIs(t, err, ErrInvalidMode)
}
