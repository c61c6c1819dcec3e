package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v float64) Func {
	return func(context.Context, []float64, Params) (Result, error) {
		return Scalar(v), nil
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Entry{Name: "one", Func: constant(1)}))
	require.NoError(t, r.Register(Entry{Name: "two", Func: constant(2)}))

	e, err := r.Lookup("two")
	require.NoError(t, err)
	res, err := e.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Scalar)

	assert.Equal(t, []string{"one", "two"}, r.Names())
	assert.Equal(t, 2, r.Len())
}

func TestLookup_Unknown(t *testing.T) {
	_, err := New().Lookup("missing")
	assert.True(t, errors.Is(err, ErrUnknownOperation))
}

func TestRegister_Rejects(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Entry{Name: "x", Func: constant(0)}))

	assert.ErrorIs(t, r.Register(Entry{Name: "x", Func: constant(0)}), ErrDuplicate)
	assert.Error(t, r.Register(Entry{Name: "", Func: constant(0)}))
	assert.Error(t, r.Register(Entry{Name: "nofunc"}))
	assert.Panics(t, func() { r.MustRegister(Entry{Name: "x", Func: constant(0)}) })
}

func TestResultOutput(t *testing.T) {
	v, err := Scalar(3).Output("")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = Scalar(3).Output("lag1")
	assert.ErrorIs(t, err, ErrUnknownOutput)

	fan := Outputs(map[string]float64{"lag1": 0.5, "lag2": 0.25})
	v, err = fan.Output("lag2")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	_, err = fan.Output("")
	assert.ErrorIs(t, err, ErrUnknownOutput)
	_, err = fan.Output("lag9")
	assert.ErrorIs(t, err, ErrUnknownOutput)
}

func TestPreconditionError(t *testing.T) {
	err := Precondition("ac", "need %d points, have %d", 10, 3)
	assert.True(t, errors.Is(err, ErrPrecondition))

	var pe *PreconditionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "ac", pe.Op)
	assert.Contains(t, err.Error(), "need 10 points, have 3")
}

func TestParamsGet(t *testing.T) {
	p := Params{"lag": 2}
	assert.Equal(t, 2.0, p.Get("lag", 1))
	assert.Equal(t, 5.0, p.Get("tau", 5))
}
