package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Float is a float64 whose JSON form covers values encoding/json rejects:
// NaN (undefined) is null, infinities are the strings "+Inf" and "-Inf".
// "NaN" is accepted on input as well.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "+Inf", "Inf", "inf", "+inf":
			*f = Float(math.Inf(1))
		case "-Inf", "-inf":
			*f = Float(math.Inf(-1))
		case "NaN", "nan":
			*f = Float(math.NaN())
		default:
			return fmt.Errorf("export: invalid float %q", s)
		}
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("export: invalid float %s: %w", b, err)
	}
	*f = Float(v)
	return nil
}

// UnmarshalJSON leaves an absent value or calc_time undefined rather than 0.
func (r *ResultRecord) UnmarshalJSON(b []byte) error {
	type plain ResultRecord
	p := plain{Value: Float(math.NaN()), CalcTime: Float(math.NaN())}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = ResultRecord(p)
	return nil
}

func floats(in []float64) []Float {
	out := make([]Float, len(in))
	for i, v := range in {
		out[i] = Float(v)
	}
	return out
}

func unfloats(in []Float) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
