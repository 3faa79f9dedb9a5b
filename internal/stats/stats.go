// Package stats holds the numeric primitives shared by the feature and
// detection stages: rolling windows, exponential averages and quantiles.
package stats

import (
	"math"
	"sort"
)

// FiniteOrZero folds NaN and ±Inf to 0.
func FiniteOrZero(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// Ratio returns a/b with undefined results folded to 0.
func Ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return FiniteOrZero(a / b)
}

// Window holds the rolling mean and sample standard deviation at each index.
// Full[i] is false until the window ending at i is complete; Mean and Std are
// 0 there.
type Window struct {
	Mean []float64
	Std  []float64
	Full []bool
}

// Rolling computes a trailing window of the given size over values, counting
// only indices >= start as defined (used for series whose first element has no
// value, such as returns). The minimum number of periods equals the window.
// A window whose values are all identical has a Std of exactly 0.
func Rolling(values []float64, window, start int) Window {
	n := len(values)
	w := Window{
		Mean: make([]float64, n),
		Std:  make([]float64, n),
		Full: make([]bool, n),
	}
	if window < 1 {
		return w
	}
	for i := 0; i < n; i++ {
		lo := i - window + 1
		if lo < start || lo < 0 {
			continue
		}
		seg := values[lo : i+1]
		w.Full[i] = true
		if constant(seg) {
			w.Mean[i] = seg[0]
			continue
		}
		var sum float64
		for _, v := range seg {
			sum += v
		}
		mean := sum / float64(window)
		w.Mean[i] = mean
		if window < 2 {
			continue
		}
		var ss float64
		for _, v := range seg {
			d := v - mean
			ss += d * d
		}
		w.Std[i] = math.Sqrt(ss / float64(window-1))
	}
	return w
}

func constant(seg []float64) bool {
	for _, v := range seg[1:] {
		if v != seg[0] {
			return false
		}
	}
	return true
}

// EMA computes an exponential moving average with smoothing 2/(span+1),
// seeded by the first value with no warm-up bias correction.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Quantile returns the q-th quantile (0 <= q <= 1) using linear interpolation
// between closest ranks. It returns 0 for an empty input.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Percentile is Quantile with p expressed in [0, 100].
func Percentile(values []float64, p float64) float64 {
	return Quantile(values, p/100)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
