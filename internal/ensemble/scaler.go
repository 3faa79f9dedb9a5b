package ensemble

import (
	"fmt"
	"math"

	"github.com/rewired-gh/tradeguard/internal/stats"
)

// Scaler standardizes each column to zero mean and unit variance.
// Columns with (near) zero variance keep a scale of 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

const zeroScale = 10 * 2.220446049250313e-16

// FitScaler learns per-column mean and population standard deviation.
func FitScaler(x [][]float64) *Scaler {
	if len(x) == 0 {
		return &Scaler{}
	}
	dims := len(x[0])
	s := &Scaler{Mean: make([]float64, dims), Scale: make([]float64, dims)}
	for j := 0; j < dims; j++ {
		var w stats.Welford
		for i := range x {
			w.Add(x[i][j])
		}
		s.Mean[j] = w.Mean
		sd := w.PopStd()
		if sd < zeroScale {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return s
}

// Validate checks a deserialized scaler covers exactly dims columns with
// finite means and positive scales.
func (s *Scaler) Validate(dims int) error {
	if len(s.Mean) != dims || len(s.Scale) != dims {
		return fmt.Errorf("scaler has %d means and %d scales, want %d", len(s.Mean), len(s.Scale), dims)
	}
	for j := 0; j < dims; j++ {
		if math.IsNaN(s.Mean[j]) || math.IsInf(s.Mean[j], 0) {
			return fmt.Errorf("column %d: mean is not finite", j)
		}
		if !(s.Scale[j] > 0) || math.IsInf(s.Scale[j], 0) {
			return fmt.Errorf("column %d: scale %v must be positive", j, s.Scale[j])
		}
	}
	return nil
}

// Transform returns a standardized copy of x.
func (s *Scaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		z := make([]float64, len(row))
		for j, v := range row {
			if j < len(s.Mean) {
				z[j] = (v - s.Mean[j]) / s.Scale[j]
			} else {
				z[j] = v
			}
		}
		out[i] = z
	}
	return out
}
