// Package storetest holds the conformance suite every storage backend runs.
package storetest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

// Fixture builds a 3x4 matrix touching every cell state: Good, Pending,
// precondition and unexpected errors, a kept infinite special value and
// a NaN calc time.
func Fixture(t testing.TB) *matrix.Matrix {
	t.Helper()
	rows := []matrix.TimeSeries{
		{ID: 11, Name: "sine.dat", Keywords: []string{"periodic"}, Length: 4, Data: []float64{0, 1, 0, -1}},
		{ID: 12, Name: "noise.dat", Keywords: []string{"noise", "synthetic"}, Length: 3, Data: []float64{0.1, math.Pi, -2.5e-300}},
		{ID: 15, Name: "empty.dat", Length: 0, Data: []float64{}},
	}
	cols := []matrix.Operation{
		{ID: 1, Name: "distribution.mean", Keywords: []string{"moments"}, Master: "distribution", Output: "mean"},
		{ID: 2, Name: "distribution.std", Master: "distribution", Output: "std"},
		{ID: 3, Name: "ac_first_zero", Keywords: []string{"correlation"}, Master: "ac_first_zero"},
		{ID: 7, Name: "hist_entropy", Master: "hist_entropy"},
	}
	m, err := matrix.New(rows, cols)
	require.NoError(t, err)

	require.NoError(t, m.Set(0, 0, matrix.GoodCell(0, 0.000125)))
	require.NoError(t, m.Set(0, 1, matrix.GoodCell(math.Sqrt(2.0/3.0), 1e-6)))
	require.NoError(t, m.Set(0, 2, matrix.ErrorCell(matrix.ReasonUnexpected, math.NaN(), math.NaN())))
	require.NoError(t, m.Set(1, 0, matrix.GoodCell(-1.0/3.0, 0.5)))
	require.NoError(t, m.Set(1, 3, matrix.ErrorCell(matrix.ReasonSpecialValue, math.Inf(-1), 0.02)))
	require.NoError(t, m.Set(2, 0, matrix.ErrorCell(matrix.ReasonPrecondition, math.NaN(), 0.0)))
	return m
}

// Run exercises the Store contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("RoundTrip", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		m := Fixture(t)
		h, err := store.Save(ctx, m)
		require.NoError(t, err)

		got, err := store.Load(ctx, h)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(m, got), "load(save(m)) != m")
	})

	t.Run("EmptyMatrix", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		m, err := matrix.New(nil, nil)
		require.NoError(t, err)
		h, err := store.Save(ctx, m)
		require.NoError(t, err)
		got, err := store.Load(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, 0, got.NumCells())
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		m := Fixture(t)
		h, err := store.Save(ctx, m)
		require.NoError(t, err)
		before, err := store.Info(ctx, h)
		require.NoError(t, err)

		require.NoError(t, m.Set(2, 3, matrix.GoodCell(42, 0.1)))
		require.NoError(t, store.Overwrite(ctx, h, m))

		got, err := store.Load(ctx, h)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(m, got))

		after, err := store.Info(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, before.CreatedAt.Unix(), after.CreatedAt.Unix())
		assert.Equal(t, before.Good+1, after.Good)
		assert.Equal(t, before.Pending-1, after.Pending)
	})

	t.Run("OverwriteShrinks", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		m := Fixture(t)
		h, err := store.Save(ctx, m)
		require.NoError(t, err)

		sub, err := m.Subset([]int64{12}, []int64{1, 7})
		require.NoError(t, err)
		require.NoError(t, store.Overwrite(ctx, h, sub))

		got, err := store.Load(ctx, h)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(sub, got))
	})

	t.Run("NotFound", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		missing := storage.NewHandle()
		_, err := store.Load(ctx, missing)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.ErrorIs(t, store.Overwrite(ctx, missing, Fixture(t)), storage.ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, missing), storage.ErrNotFound)
		_, err = store.Info(ctx, missing)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		h1, err := store.Save(ctx, Fixture(t))
		require.NoError(t, err)
		h2, err := store.Save(ctx, Fixture(t))
		require.NoError(t, err)

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, h1, list[0].Handle)
		assert.Equal(t, h2, list[1].Handle)
		assert.Equal(t, 3, list[0].Rows)
		assert.Equal(t, 4, list[0].Columns)
		assert.Equal(t, 3, list[0].Errors)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Snapshots)
		assert.Equal(t, uint64(24), stats.Cells)

		require.NoError(t, store.Delete(ctx, h1))
		list, err = store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, h2, list[0].Handle)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.Save(ctx, Fixture(t))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
