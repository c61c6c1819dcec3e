package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloats_RoundTripSpecialValues(t *testing.T) {
	comp, err := New(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	values := []float64{
		100, 100.5, math.NaN(), math.Inf(1), math.Inf(-1), 0, math.Copysign(0, -1),
		math.SmallestNonzeroFloat64, math.MaxFloat64, 1.0 / 3.0,
	}

	data := comp.Floats(values)
	got, err := comp.DecodeFloats(data, len(values))
	require.NoError(t, err)
	require.Len(t, got, len(values))
	for i := range values {
		assert.Equal(t, math.Float64bits(values[i]), math.Float64bits(got[i]), "index %d", i)
	}
}

func TestFloats_Compresses(t *testing.T) {
	comp, err := New(3)
	require.NoError(t, err)
	defer comp.Close()

	values := make([]float64, 1000)
	for i := range values {
		values[i] = 100.0 + math.Sin(float64(i)*0.1)*10
	}
	values[10] = math.NaN()

	data := comp.Floats(values)
	assert.Less(t, len(data), len(values)*8)
}

func TestDecodeFloats_CountMismatch(t *testing.T) {
	comp, err := New(1)
	require.NoError(t, err)
	defer comp.Close()

	data := comp.Floats([]float64{1, 2, 3})
	_, err = comp.DecodeFloats(data, 4)
	assert.ErrorIs(t, err, ErrShortData)

	_, err = comp.DecodeFloats([]byte("not zstd"), 1)
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	comp, err := New(4)
	require.NoError(t, err)
	defer comp.Close()

	assert.Nil(t, comp.Floats(nil))
	got, err := comp.DecodeFloats(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	ss, err := comp.DecodeStrings(comp.Strings(nil), 0)
	require.NoError(t, err)
	assert.Empty(t, ss)
}

func TestBytesAndStrings(t *testing.T) {
	comp, err := New(2)
	require.NoError(t, err)
	defer comp.Close()

	codes := []byte{0, 1, 2, 1, 1, 0}
	got, err := comp.DecodeBytes(comp.Bytes(codes), len(codes))
	require.NoError(t, err)
	assert.Equal(t, codes, got)

	reasons := []string{"", "timeout", "", "special-value"}
	out, err := comp.DecodeStrings(comp.Strings(reasons), len(reasons))
	require.NoError(t, err)
	assert.Equal(t, reasons, out)

	_, err = comp.DecodeStrings(comp.Strings(reasons), len(reasons)+1)
	assert.ErrorIs(t, err, ErrShortData)
}
