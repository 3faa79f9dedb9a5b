package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/tradeguard/internal/models"
)

func row(close, volume float64) models.FeatureRow {
	return models.FeatureRow{Bar: models.Bar{Close: close, Volume: volume}}
}

func TestIQRFences(t *testing.T) {
	f := IQRFences([]float64{1, 2, 3, 4}, 1.5)
	// Q1 = 1.75, Q3 = 3.25, IQR = 1.5
	assert.InDelta(t, -0.5, f.Lower, 1e-12)
	assert.InDelta(t, 5.5, f.Upper, 1e-12)
	assert.True(t, f.Contains(5.5))
	assert.False(t, f.Contains(5.51))
}

func TestDetect_ZScoreThresholds(t *testing.T) {
	rows := []models.FeatureRow{row(10, 100), row(10, 100), row(10, 100)}
	rows[0].PriceZScore = 2.5
	rows[1].PriceZScore = -2.51
	rows[2].VolumeZScore = 2.01

	got := New(DefaultConfig()).Detect(rows)
	require.Len(t, got, 3)

	assert.False(t, got[0].PriceAnomalyZ, "threshold is strict")
	assert.True(t, got[1].PriceAnomalyZ, "absolute value is tested")
	assert.True(t, got[2].VolumeAnomalyZ)
	assert.False(t, got[2].PriceAnomalyZ)
}

func TestDetect_IQRUsesWholeSeries(t *testing.T) {
	rows := make([]models.FeatureRow, 0, 12)
	for i := 0; i < 11; i++ {
		rows = append(rows, row(100+float64(i%3), 1000))
	}
	rows = append(rows, row(160, 9000))

	got := New(DefaultConfig()).Detect(rows)

	assert.True(t, got[11].PriceAnomalyIQR)
	assert.True(t, got[11].VolumeAnomalyIQR)
	for i := 0; i < 11; i++ {
		assert.False(t, got[i].PriceAnomalyIQR, "row %d", i)
		assert.False(t, got[i].VolumeAnomalyIQR, "row %d", i)
	}
}

func TestDetect_MovingAverageDeviation(t *testing.T) {
	rows := []models.FeatureRow{row(1, 1), row(1, 1), row(1, 1), row(1, 1)}
	rows[0].PriceToSMA20 = 0 // window not full
	rows[1].PriceToSMA20 = 1.11
	rows[2].PriceToSMA20 = 0.9
	rows[3].PriceToSMA20 = 1.0
	rows[3].VolumeRatio = 2.5

	got := New(DefaultConfig()).Detect(rows)

	assert.False(t, got[0].PriceAnomalyMA, "incomplete window is neutral")
	assert.True(t, got[1].PriceAnomalyMA)
	assert.False(t, got[2].PriceAnomalyMA, "band edges are inside")
	assert.False(t, got[3].PriceAnomalyMA)
	assert.True(t, got[3].VolumeAnomalyMA)
}

func TestDetect_FlatSeriesRaisesNothing(t *testing.T) {
	rows := make([]models.FeatureRow, 30)
	for i := range rows {
		rows[i] = row(100, 5000)
		if i >= 19 {
			rows[i].PriceToSMA20 = 1
			rows[i].VolumeRatio = 1
		}
	}
	for i, d := range New(DefaultConfig()).Detect(rows) {
		assert.False(t, d.PriceFlagged(), "row %d", i)
		assert.False(t, d.VolumeFlagged(), "row %d", i)
	}
}

func TestDetect_CustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriceZThreshold = 1.0
	rows := []models.FeatureRow{row(1, 1)}
	rows[0].PriceZScore = 1.5

	got := New(cfg).Detect(rows)
	assert.True(t, got[0].PriceAnomalyZ)
}

func TestDetect_Empty(t *testing.T) {
	assert.Empty(t, New(DefaultConfig()).Detect(nil))
}
