// Package risk fuses detector outputs into a 0-100 risk score, a risk level
// and an anomaly label per day.
package risk

import (
	"math"
	"sort"
	"strings"

	"github.com/rewired-gh/tradeguard/internal/models"
	"github.com/rewired-gh/tradeguard/internal/stats"
)

// Weights scale each sub-score. They are not renormalized: a vector summing
// to s scales every unclamped score by s.
type Weights struct {
	Price      float64 `mapstructure:"price"`
	Volume     float64 `mapstructure:"volume"`
	ML         float64 `mapstructure:"ml"`
	Volatility float64 `mapstructure:"volatility"`
}

func DefaultWeights() Weights {
	return Weights{Price: 0.35, Volume: 0.35, ML: 0.20, Volatility: 0.10}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Price + w.Volume + w.ML + w.Volatility
}

// Sub-score multipliers.
const (
	priceZFactor     = 20
	volumeZFactor    = 15
	mlFactor         = 10
	volatilityFactor = 50

	maxScore    = 100
	lowCeiling  = 30
	highFloorEx = 70
)

// Scorer turns detection rows into scored rows.
type Scorer struct {
	weights Weights
}

func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// Score assesses every row independently.
func (s *Scorer) Score(rows []models.DetectionRow) []models.ScoredRow {
	out := make([]models.ScoredRow, len(rows))
	for i, d := range rows {
		out[i] = s.scoreRow(d)
	}
	return out
}

func (s *Scorer) scoreRow(d models.DetectionRow) models.ScoredRow {
	r := models.ScoredRow{DetectionRow: d}

	if d.PriceFlagged() {
		r.PriceScore = stats.Clamp(math.Abs(d.PriceZScore)*priceZFactor, 0, maxScore)
	}
	if d.VolumeFlagged() {
		r.VolumeScore = stats.Clamp(math.Abs(d.VolumeZScore)*volumeZFactor, 0, maxScore)
	}
	// Only the isolation forest gates the ML sub-score.
	if d.MLAnomalyIF {
		r.MLScore = stats.Clamp(-d.MLScoreIF*mlFactor, 0, maxScore)
	}
	r.VolatilityScore = stats.Clamp(d.VolatilityRatio*volatilityFactor, 0, maxScore)

	r.RiskScore = stats.Clamp(
		r.PriceScore*s.weights.Price+
			r.VolumeScore*s.weights.Volume+
			r.MLScore*s.weights.ML+
			r.VolatilityScore*s.weights.Volatility,
		0, maxScore)
	r.RiskLevel = Level(r.RiskScore)
	r.AnomalyType = Label(d)
	r.IsAnomaly = IsAnomaly(d)
	return r
}

// Level buckets a score: below 30 is Low, above 70 is High, and the closed
// interval [30, 70] is Medium.
func Level(score float64) models.RiskLevel {
	switch {
	case score < lowCeiling:
		return models.RiskLow
	case score > highFloorEx:
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

// Label joins Price, Volume and ML Pattern for whichever families fired,
// or returns Normal.
func Label(d models.DetectionRow) string {
	labels := make([]string, 0, 3)
	if d.PriceFlagged() {
		labels = append(labels, models.LabelPrice)
	}
	if d.VolumeFlagged() {
		labels = append(labels, models.LabelVolume)
	}
	if d.MLAnomalyIF {
		labels = append(labels, models.LabelMLPattern)
	}
	if len(labels) == 0 {
		return models.LabelNormal
	}
	return strings.Join(labels, ", ")
}

// IsAnomaly is true for any statistical flag or an isolation forest outlier.
// The local outlier factor verdict is carried on the row for visibility but
// does not trigger, matching its absence from the ML sub-score.
func IsAnomaly(d models.DetectionRow) bool {
	return d.PriceFlagged() || d.VolumeFlagged() || d.MLAnomalyIF
}

// Summarize reduces a scored series to counts and score statistics.
func Summarize(symbol string, rows []models.ScoredRow) models.BatchSummary {
	sum := models.BatchSummary{Symbol: symbol, TotalDays: len(rows)}
	if len(rows) == 0 {
		return sum
	}

	sum.MinRiskScore = math.Inf(1)
	sum.MaxRiskScore = math.Inf(-1)
	var total float64
	for _, r := range rows {
		switch r.RiskLevel {
		case models.RiskHigh:
			sum.HighRisk++
		case models.RiskMedium:
			sum.MediumRisk++
		default:
			sum.LowRisk++
		}
		if r.IsAnomaly {
			sum.Anomalies++
		}
		if r.PriceFlagged() {
			sum.PriceAnomalies++
		}
		if r.VolumeFlagged() {
			sum.VolumeAnomalies++
		}
		if r.MLAnomalyIF {
			sum.MLAnomalies++
		}
		if r.MLAnomalyLOF {
			sum.LOFAnomalies++
		}
		total += r.RiskScore
		sum.MinRiskScore = math.Min(sum.MinRiskScore, r.RiskScore)
		sum.MaxRiskScore = math.Max(sum.MaxRiskScore, r.RiskScore)
	}
	sum.AvgRiskScore = total / float64(len(rows))
	return sum
}

// TopAnomalies returns up to n anomalous rows ordered by descending risk
// score; ties keep date order.
func TopAnomalies(rows []models.ScoredRow, n int) []models.ScoredRow {
	var out []models.ScoredRow
	for _, r := range rows {
		if r.IsAnomaly {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
