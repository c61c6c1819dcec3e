// Package operations is the built-in feature catalog. Each master is a pure
// function over a data vector; several emit more than one named output.
package operations

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/registry"
)

// Master names.
const (
	Distribution = "distribution"
	Autocorr     = "autocorr"
	FirstZero    = "ac_first_zero"
	Entropy      = "hist_entropy"
	Trend        = "linear_trend"
	Spread       = "spread"
)

// MaxLag is the largest lag emitted by Autocorr.
const MaxLag = 5

// Register adds every built-in master to r.
func Register(r *registry.Registry) error {
	for _, e := range entries() {
		if err := r.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a registry holding the built-in catalog.
func Default() *registry.Registry {
	r := registry.New()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

func entries() []registry.Entry {
	return []registry.Entry{
		{Name: Distribution, Keywords: []string{"distribution", "moments"}, Func: distribution},
		{Name: Autocorr, Keywords: []string{"correlation"}, Params: registry.Params{"max_lag": MaxLag}, Func: autocorr},
		{Name: FirstZero, Keywords: []string{"correlation"}, Func: firstZero},
		{Name: Entropy, Keywords: []string{"information", "distribution"}, Params: registry.Params{"bins": 10}, Func: histEntropy},
		{Name: Trend, Keywords: []string{"model", "trend"}, Func: linearTrend},
		{Name: Spread, Keywords: []string{"distribution"}, Func: spread},
	}
}

// Columns expands the catalog into matrix columns, one per output, with ids
// assigned from firstID upward in a stable order.
func Columns(firstID int64) []matrix.Operation {
	var cols []matrix.Operation
	id := firstID
	add := func(master, output string, keywords []string) {
		name := master
		if output != "" {
			name = master + "." + output
		}
		cols = append(cols, matrix.Operation{
			ID:       id,
			Name:     name,
			Keywords: append([]string(nil), keywords...),
			Master:   master,
			Output:   output,
		})
		id++
	}

	for _, e := range entries() {
		outs := outputNames(e.Name)
		if len(outs) == 0 {
			add(e.Name, "", e.Keywords)
			continue
		}
		for _, o := range outs {
			add(e.Name, o, e.Keywords)
		}
	}
	return cols
}

func outputNames(master string) []string {
	switch master {
	case Distribution:
		return []string{"mean", "std", "skewness", "kurtosis"}
	case Autocorr:
		out := make([]string, MaxLag)
		for k := 1; k <= MaxLag; k++ {
			out[k-1] = fmt.Sprintf("lag%d", k)
		}
		return out
	case Trend:
		return []string{"slope", "intercept", "rmse"}
	case Spread:
		return []string{"min", "max", "median", "iqr"}
	default:
		return nil
	}
}

func need(op string, data []float64, n int) error {
	if len(data) < n {
		return registry.Precondition(op, "need at least %d points, have %d", n, len(data))
	}
	return nil
}

func mean(data []float64) float64 {
	var s float64
	for _, v := range data {
		s += v
	}
	return s / float64(len(data))
}

func distribution(_ context.Context, data []float64, _ registry.Params) (registry.Result, error) {
	if err := need(Distribution, data, 2); err != nil {
		return registry.Result{}, err
	}
	mu := mean(data)
	var m2, m3, m4 float64
	for _, v := range data {
		d := v - mu
		m2 += d * d
		m3 += d * d * d
		m4 += d * d * d * d
	}
	n := float64(len(data))
	m2 /= n
	m3 /= n
	m4 /= n

	// Constant input yields NaN moments; the runner records those as special values.
	return registry.Outputs(map[string]float64{
		"mean":     mu,
		"std":      math.Sqrt(m2 * n / (n - 1)),
		"skewness": m3 / math.Pow(m2, 1.5),
		"kurtosis": m4/(m2*m2) - 3,
	}), nil
}

func acf(data []float64, mu, variance float64, lag int) float64 {
	var s float64
	for i := 0; i+lag < len(data); i++ {
		s += (data[i] - mu) * (data[i+lag] - mu)
	}
	return s / (float64(len(data)) * variance)
}

func variance(data []float64, mu float64) float64 {
	var s float64
	for _, v := range data {
		d := v - mu
		s += d * d
	}
	return s / float64(len(data))
}

func autocorr(ctx context.Context, data []float64, p registry.Params) (registry.Result, error) {
	maxLag := int(p.Get("max_lag", MaxLag))
	if err := need(Autocorr, data, maxLag+2); err != nil {
		return registry.Result{}, err
	}
	mu := mean(data)
	v := variance(data, mu)
	out := make(map[string]float64, maxLag)
	for k := 1; k <= maxLag; k++ {
		if err := ctx.Err(); err != nil {
			return registry.Result{}, err
		}
		out[fmt.Sprintf("lag%d", k)] = acf(data, mu, v, k)
	}
	return registry.Outputs(out), nil
}

func firstZero(ctx context.Context, data []float64, _ registry.Params) (registry.Result, error) {
	if err := need(FirstZero, data, 3); err != nil {
		return registry.Result{}, err
	}
	mu := mean(data)
	v := variance(data, mu)
	if v == 0 {
		return registry.Result{}, registry.Precondition(FirstZero, "constant series")
	}
	for lag := 1; lag < len(data); lag++ {
		if lag%256 == 0 {
			if err := ctx.Err(); err != nil {
				return registry.Result{}, err
			}
		}
		if acf(data, mu, v, lag) <= 0 {
			return registry.Scalar(float64(lag)), nil
		}
	}
	return registry.Scalar(float64(len(data))), nil
}

func histEntropy(_ context.Context, data []float64, p registry.Params) (registry.Result, error) {
	bins := int(p.Get("bins", 10))
	if bins < 2 {
		return registry.Result{}, fmt.Errorf("hist_entropy: invalid bin count %d", bins)
	}
	if err := need(Entropy, data, bins); err != nil {
		return registry.Result{}, err
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return registry.Scalar(0), nil
	}
	counts := make([]int, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range data {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}
	var h float64
	n := float64(len(data))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		q := float64(c) / n
		h -= q * math.Log(q)
	}
	return registry.Scalar(h), nil
}

func linearTrend(_ context.Context, data []float64, _ registry.Params) (registry.Result, error) {
	if err := need(Trend, data, 3); err != nil {
		return registry.Result{}, err
	}
	n := float64(len(data))
	tBar := (n - 1) / 2
	yBar := mean(data)
	var sxy, sxx float64
	for i, y := range data {
		dt := float64(i) - tBar
		sxy += dt * (y - yBar)
		sxx += dt * dt
	}
	slope := sxy / sxx
	intercept := yBar - slope*tBar
	var sse float64
	for i, y := range data {
		r := y - (intercept + slope*float64(i))
		sse += r * r
	}
	return registry.Outputs(map[string]float64{
		"slope":     slope,
		"intercept": intercept,
		"rmse":      math.Sqrt(sse / n),
	}), nil
}

func spread(_ context.Context, data []float64, _ registry.Params) (registry.Result, error) {
	if err := need(Spread, data, 4); err != nil {
		return registry.Result{}, err
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	return registry.Outputs(map[string]float64{
		"min":    sorted[0],
		"max":    sorted[len(sorted)-1],
		"median": quantile(sorted, 0.5),
		"iqr":    quantile(sorted, 0.75) - quantile(sorted, 0.25),
	}), nil
}

// quantile interpolates linearly between order statistics of sorted.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
