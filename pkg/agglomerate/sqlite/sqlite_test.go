package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfeat/pkg/agglomerate"
	"github.com/nicktill/tinyfeat/pkg/matrix"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "remote.db"), 2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fixture(t *testing.T) *matrix.Matrix {
	t.Helper()
	rows := []matrix.TimeSeries{
		{ID: 5, Name: "a", Keywords: []string{"x", "y"}, Length: 2, Data: []float64{1, 2}},
		{ID: 7, Name: "b", Length: 3, Data: []float64{1, math.NaN(), 3}},
	}
	cols := []matrix.Operation{
		{ID: 2, Name: "mean", Master: "distribution", Output: "mean"},
		{ID: 9, Name: "std", Master: "distribution", Output: "std"},
	}
	m, err := matrix.New(rows, cols)
	require.NoError(t, err)
	return m
}

func TestSeedCreatesUnsetCells(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := fixture(t)
	require.NoError(t, s.Seed(ctx, m))
	require.NoError(t, s.Seed(ctx, m), "seeding twice is harmless")

	c, ok, err := s.Cell(ctx, 7, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, matrix.Pending, c.Quality)
	assert.False(t, c.HasValue())

	_, ok, err = s.Cell(ctx, 7, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionCountsAndQueries(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Seed(ctx, fixture(t)))

	r, err := s.Connect(ctx)
	require.NoError(t, err)
	defer r.Close()

	n, err := r.CountRows(ctx, []int64{5, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.CountColumns(ctx, []int64{2, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.WriteCell(ctx, 5, 2, matrix.ErrorCell(matrix.ReasonPrecondition, math.NaN(), 0.1)))

	null, err := r.QueryCells(ctx, agglomerate.ModeNull, []int64{5, 7}, []int64{2, 9})
	require.NoError(t, err)
	assert.Len(t, null, 3)

	errs, err := r.QueryCells(ctx, agglomerate.ModeError, []int64{5, 7}, []int64{2, 9})
	require.NoError(t, err)
	assert.Equal(t, []agglomerate.Candidate{{RowID: 5, ColumnID: 2, Quality: matrix.Error}}, errs)

	both, err := r.QueryCells(ctx, agglomerate.ModeNullError, []int64{5}, []int64{2, 9})
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestWriteCellGuards(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Seed(ctx, fixture(t)))

	r, err := s.Connect(ctx)
	require.NoError(t, err)
	defer r.Close()

	prior := matrix.ErrorCell(matrix.ReasonTimeout, math.NaN(), 4)
	require.NoError(t, r.WriteCell(ctx, 5, 9, prior))

	err = r.WriteCell(ctx, 5, 9, matrix.ErrorCell(matrix.ReasonUnexpected, math.NaN(), math.NaN()))
	assert.ErrorIs(t, err, ErrCellNotWritten)
	got, _, err := s.Cell(ctx, 5, 9)
	require.NoError(t, err)
	assert.True(t, prior.SameAs(got))

	err = r.WriteCell(ctx, 99, 9, matrix.GoodCell(1, 0))
	assert.ErrorIs(t, err, ErrCellNotWritten)

	require.NoError(t, r.WriteCell(ctx, 5, 9, matrix.GoodCell(2.5, 0.3)))
	got, _, err = s.Cell(ctx, 5, 9)
	require.NoError(t, err)
	assert.True(t, matrix.GoodCell(2.5, 0.3).SameAs(got))
}

func TestSyncEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := fixture(t)
	require.NoError(t, s.Seed(ctx, m))

	require.NoError(t, m.Set(1, 1, matrix.GoodCell(3.14, 0.02)))
	require.NoError(t, m.Set(0, 0, matrix.ErrorCell(matrix.ReasonPrecondition, math.NaN(), 0)))

	r, err := s.Connect(ctx)
	require.NoError(t, err)
	rep, err := agglomerate.Run(ctx, m, r, agglomerate.ModeNull, agglomerate.Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Candidates)
	assert.Equal(t, 1, rep.Written)
	assert.Equal(t, 3, rep.Skipped)

	got, _, err := s.Cell(ctx, 7, 9)
	require.NoError(t, err)
	assert.Equal(t, matrix.Good, got.Quality)
	assert.Equal(t, 3.14, got.Value)

	// A second sync finds nothing new.
	r, err = s.Connect(ctx)
	require.NoError(t, err)
	rep, err = agglomerate.Run(ctx, m, r, agglomerate.ModeNull, agglomerate.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Written)
}

func TestSyncDrift(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := fixture(t)
	require.NoError(t, s.Seed(ctx, m))
	require.NoError(t, m.Set(0, 0, matrix.GoodCell(1, 0)))
	require.NoError(t, s.DeleteSeries(ctx, 7))

	r, err := s.Connect(ctx)
	require.NoError(t, err)
	_, err = agglomerate.Run(ctx, m, r, agglomerate.ModeNullError, agglomerate.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, agglomerate.ErrIdentityDrift))

	got, _, err := s.Cell(ctx, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, matrix.Pending, got.Quality, "no write under drift")

	// The session went back to the pool.
	r2, err := s.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, r2.Close())
}

func TestConnectCancelled(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "remote.db"), 1, nil)
	require.NoError(t, err)
	defer s.Close()

	held, err := s.Connect(context.Background())
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Connect(ctx)
	assert.ErrorIs(t, err, ErrNoConnection)
}
