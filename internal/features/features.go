// Package features derives the per-day indicator set from a raw OHLCV series.
package features

import (
	"math"

	"github.com/rewired-gh/tradeguard/internal/models"
	"github.com/rewired-gh/tradeguard/internal/stats"
)

// Rolling window sizes and EMA spans.
const (
	ShortWindow  = 5
	MediumWindow = 20
	LongWindow   = 50

	FastSpan   = 12
	SlowSpan   = 26
	SignalSpan = 9
)

// Extract computes a FeatureRow for every bar. It is a pure function of the
// input: rows whose rolling window is not yet full carry 0 for that feature,
// and every non-finite intermediate is folded to 0 before it leaves here.
func Extract(series models.Series) []models.FeatureRow {
	n := series.Len()
	rows := make([]models.FeatureRow, n)
	if n == 0 {
		return rows
	}

	closes := series.Closes()
	volumes := series.Volumes()

	returns := make([]float64, n)
	logReturns := make([]float64, n)
	volumeChange := make([]float64, n)
	for i := 1; i < n; i++ {
		returns[i] = closes[i]/closes[i-1] - 1
		logReturns[i] = math.Log(closes[i] / closes[i-1])
		volumeChange[i] = volumes[i]/volumes[i-1] - 1
	}

	// returns[0] is undefined, so windows over returns start at index 1.
	ret5 := stats.Rolling(returns, ShortWindow, 1)
	ret20 := stats.Rolling(returns, MediumWindow, 1)
	vol5 := stats.Rolling(volumes, ShortWindow, 0)
	vol20 := stats.Rolling(volumes, MediumWindow, 0)
	px20 := stats.Rolling(closes, MediumWindow, 0)
	px50 := stats.Rolling(closes, LongWindow, 0)

	ema12 := stats.EMA(closes, FastSpan)
	ema26 := stats.EMA(closes, SlowSpan)
	macd := make([]float64, n)
	for i := range macd {
		macd[i] = ema12[i] - ema26[i]
	}
	signal := stats.EMA(macd, SignalSpan)

	for i, bar := range series.Bars {
		r := &rows[i]
		r.Bar = bar

		r.Returns = stats.FiniteOrZero(returns[i])
		r.LogReturns = stats.FiniteOrZero(logReturns[i])
		r.ReturnsMA5 = stats.FiniteOrZero(ret5.Mean[i])
		r.ReturnsMA20 = stats.FiniteOrZero(ret20.Mean[i])

		r.VolumeMA5 = stats.FiniteOrZero(vol5.Mean[i])
		r.VolumeMA20 = stats.FiniteOrZero(vol20.Mean[i])
		r.VolumeRatio = stats.Ratio(bar.Volume, r.VolumeMA20)
		r.VolumeChange = stats.FiniteOrZero(volumeChange[i])

		r.DailyRange = stats.Ratio(bar.High-bar.Low, bar.Close)
		r.Volatility5 = stats.FiniteOrZero(ret5.Std[i])
		r.Volatility20 = stats.FiniteOrZero(ret20.Std[i])
		r.VolatilityRatio = stats.Ratio(r.Volatility5, r.Volatility20)

		r.SMA20 = stats.FiniteOrZero(px20.Mean[i])
		r.SMA50 = stats.FiniteOrZero(px50.Mean[i])
		r.EMA12 = stats.FiniteOrZero(ema12[i])
		r.EMA26 = stats.FiniteOrZero(ema26[i])
		r.PriceToSMA20 = stats.Ratio(bar.Close, r.SMA20)
		r.PriceToSMA50 = stats.Ratio(bar.Close, r.SMA50)
		r.MACD = stats.FiniteOrZero(macd[i])
		r.MACDSignal = stats.FiniteOrZero(signal[i])

		r.PriceZScore = zscore(bar.Close, px20, i)
		r.VolumeZScore = zscore(bar.Volume, vol20, i)
		r.ReturnsZScore = zscore(returns[i], ret20, i)
	}

	return rows
}

// zscore is the deviation of x from the trailing window at i, 0 when the
// window is incomplete or flat.
func zscore(x float64, w stats.Window, i int) float64 {
	if !w.Full[i] {
		return 0
	}
	return stats.Ratio(x-w.Mean[i], w.Std[i])
}

// ModelVector returns the eight features the outlier ensemble is fitted on,
// in a fixed order.
func ModelVector(r models.FeatureRow) []float64 {
	return []float64{
		r.Returns,
		r.VolumeRatio,
		r.Volatility5,
		r.PriceZScore,
		r.VolumeZScore,
		r.ReturnsZScore,
		r.PriceToSMA20,
		r.MACD,
	}
}

// ModelDims is the length of ModelVector.
const ModelDims = 8
