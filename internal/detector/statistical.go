// Package detector applies fixed-rule statistical tests to feature rows.
package detector

import (
	"github.com/rewired-gh/tradeguard/internal/models"
	"github.com/rewired-gh/tradeguard/internal/stats"
)

// Config represents the statistical test thresholds
type Config struct {
	PriceZThreshold  float64
	VolumeZThreshold float64
	IQRMultiplier    float64

	// Price is flagged when close/sma_20 leaves [PriceMALow, PriceMAHigh].
	PriceMALow  float64
	PriceMAHigh float64
	// Volume is flagged when volume/volume_ma_20 exceeds VolumeMARatio.
	VolumeMARatio float64
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		PriceZThreshold:  2.5,
		VolumeZThreshold: 2.0,
		IQRMultiplier:    1.5,
		PriceMALow:       0.9,
		PriceMAHigh:      1.1,
		VolumeMARatio:    2.0,
	}
}

// Statistical runs the z-score, IQR fence and moving-average deviation tests.
type Statistical struct {
	config Config
}

// New creates a statistical detector with the given thresholds
func New(config Config) *Statistical {
	return &Statistical{config: config}
}

// Fences are the IQR bounds computed once over the whole series.
type Fences struct {
	Lower float64
	Upper float64
}

// Contains reports whether x lies inside the closed fence interval.
func (f Fences) Contains(x float64) bool {
	return x >= f.Lower && x <= f.Upper
}

// IQRFences returns Q1 - k·IQR and Q3 + k·IQR for values.
func IQRFences(values []float64, k float64) Fences {
	q1 := stats.Quantile(values, 0.25)
	q3 := stats.Quantile(values, 0.75)
	iqr := q3 - q1
	return Fences{Lower: q1 - k*iqr, Upper: q3 + k*iqr}
}

// Detect returns one DetectionRow per feature row with the six statistical
// flags set. ML fields are left zero. Price and volume families are tested
// independently and never combined here.
func (s *Statistical) Detect(rows []models.FeatureRow) []models.DetectionRow {
	out := make([]models.DetectionRow, len(rows))
	if len(rows) == 0 {
		return out
	}

	closes := make([]float64, len(rows))
	volumes := make([]float64, len(rows))
	for i, r := range rows {
		closes[i] = r.Close
		volumes[i] = r.Volume
	}
	priceFence := IQRFences(closes, s.config.IQRMultiplier)
	volumeFence := IQRFences(volumes, s.config.IQRMultiplier)

	for i, r := range rows {
		d := &out[i]
		d.FeatureRow = r

		d.PriceAnomalyZ = abs(r.PriceZScore) > s.config.PriceZThreshold
		d.VolumeAnomalyZ = abs(r.VolumeZScore) > s.config.VolumeZThreshold

		d.PriceAnomalyIQR = !priceFence.Contains(r.Close)
		d.VolumeAnomalyIQR = !volumeFence.Contains(r.Volume)

		// A zero ratio means the 20-day window is not full yet.
		if r.PriceToSMA20 != 0 {
			d.PriceAnomalyMA = r.PriceToSMA20 > s.config.PriceMAHigh || r.PriceToSMA20 < s.config.PriceMALow
		}
		d.VolumeAnomalyMA = r.VolumeRatio > s.config.VolumeMARatio
	}

	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
