package contamination

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// Summary mirrors a pandas describe() of one numeric column. Std uses the
// sample (n-1) denominator and quantiles interpolate linearly.
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Q25   float64
	Q50   float64
	Q75   float64
	Max   float64
}

// Describe summarises the finite values in vals.
func Describe(vals []float64) Summary {
	var xs []float64
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			xs = append(xs, v)
		}
	}
	nan := math.NaN()
	s := Summary{Count: len(xs), Mean: nan, Std: nan, Min: nan, Q25: nan, Q50: nan, Q75: nan, Max: nan}
	if len(xs) == 0 {
		return s
	}
	sort.Float64s(xs)

	var sum float64
	for _, v := range xs {
		sum += v
	}
	s.Mean = sum / float64(len(xs))
	if len(xs) > 1 {
		var ss float64
		for _, v := range xs {
			ss += (v - s.Mean) * (v - s.Mean)
		}
		s.Std = math.Sqrt(ss / float64(len(xs)-1))
	}
	s.Min = xs[0]
	s.Max = xs[len(xs)-1]
	s.Q25 = quantile(xs, 0.25)
	s.Q50 = quantile(xs, 0.50)
	s.Q75 = quantile(xs, 0.75)
	return s
}

func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Fields returns the summary as zap fields.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("count", s.Count),
		zap.Float64("mean", s.Mean),
		zap.Float64("std", s.Std),
		zap.Float64("min", s.Min),
		zap.Float64("25%", s.Q25),
		zap.Float64("50%", s.Q50),
		zap.Float64("75%", s.Q75),
		zap.Float64("max", s.Max),
	}
}
