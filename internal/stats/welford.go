package stats

import "math"

// Welford accumulates a running mean and sum of squared deviations.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

// Add folds one observation into the accumulator.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Variance returns the sample variance (ddof=1), or 0 with fewer than two points.
func (w *Welford) Variance() float64 {
	if w.Count < 2 {
		return 0
	}
	return w.M2 / float64(w.Count-1)
}

// PopVariance returns the population variance (ddof=0).
func (w *Welford) PopVariance() float64 {
	if w.Count == 0 {
		return 0
	}
	return w.M2 / float64(w.Count)
}

// PopStd returns the population standard deviation.
func (w *Welford) PopStd() float64 {
	return math.Sqrt(w.PopVariance())
}
