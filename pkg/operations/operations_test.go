package operations

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfeat/pkg/registry"
)

func call(t *testing.T, master string, data []float64) (registry.Result, error) {
	t.Helper()
	e, err := Default().Lookup(master)
	require.NoError(t, err)
	return e.Call(context.Background(), data)
}

func TestColumnsMatchCatalog(t *testing.T) {
	r := Default()
	cols := Columns(100)

	seen := make(map[int64]bool)
	for _, c := range cols {
		assert.False(t, seen[c.ID], "duplicate id %d", c.ID)
		seen[c.ID] = true

		_, err := r.Lookup(c.Master)
		assert.NoError(t, err, "column %s has no master", c.Name)
	}
	assert.Equal(t, int64(100), cols[0].ID)
	// 4 distribution + 5 autocorr + first zero + entropy + 3 trend + 4 spread
	assert.Len(t, cols, 18)
}

func TestEveryColumnResolvesOnRealData(t *testing.T) {
	data := make([]float64, 64)
	for i := range data {
		data[i] = math.Sin(float64(i)/3) + float64(i%5)
	}
	r := Default()
	for _, c := range Columns(1) {
		e, err := r.Lookup(c.Master)
		require.NoError(t, err)
		res, err := e.Call(context.Background(), data)
		require.NoError(t, err, c.Name)
		v, err := res.Output(c.Output)
		require.NoError(t, err, c.Name)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %v", c.Name, v)
	}
}

func TestDistribution(t *testing.T) {
	res, err := call(t, Distribution, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, res.Outputs["mean"], 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), res.Outputs["std"], 1e-12)
	assert.InDelta(t, 0, res.Outputs["skewness"], 1e-12)

	res, err = call(t, Distribution, []float64{2, 2, 2})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(res.Outputs["skewness"]))
}

func TestPreconditions(t *testing.T) {
	for _, master := range []string{Distribution, Autocorr, FirstZero, Entropy, Trend, Spread} {
		_, err := call(t, master, []float64{1})
		assert.True(t, errors.Is(err, registry.ErrPrecondition), "%s: %v", master, err)
	}

	_, err := call(t, FirstZero, []float64{3, 3, 3, 3})
	assert.ErrorIs(t, err, registry.ErrPrecondition)
}

func TestLinearTrend(t *testing.T) {
	res, err := call(t, Trend, []float64{1, 3, 5, 7, 9})
	require.NoError(t, err)
	assert.InDelta(t, 2, res.Outputs["slope"], 1e-12)
	assert.InDelta(t, 1, res.Outputs["intercept"], 1e-12)
	assert.InDelta(t, 0, res.Outputs["rmse"], 1e-12)
}

func TestSpread(t *testing.T) {
	res, err := call(t, Spread, []float64{5, 1, 4, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Outputs["min"])
	assert.Equal(t, 5.0, res.Outputs["max"])
	assert.Equal(t, 3.0, res.Outputs["median"])
	assert.Equal(t, 2.0, res.Outputs["iqr"])
}

func TestFirstZero(t *testing.T) {
	res, err := call(t, FirstZero, []float64{1, -1, 1, -1, 1, -1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Scalar)
}

func TestAutocorrHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, err := Default().Lookup(Autocorr)
	require.NoError(t, err)
	_, err = e.Call(ctx, make([]float64, 32))
	assert.ErrorIs(t, err, context.Canceled)
}
