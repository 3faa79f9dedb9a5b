// Package ensemble fits unsupervised outlier models (an isolation forest and
// a local outlier factor) on the engineered features of one batch.
package ensemble

import (
	"github.com/rewired-gh/tradeguard/internal/features"
	"github.com/rewired-gh/tradeguard/internal/logger"
	"github.com/rewired-gh/tradeguard/internal/models"
)

// Config represents the outlier model parameters
type Config struct {
	Contamination float64
	NEstimators   int
	MaxSamples    int
	NNeighbors    int
	Seed          int64
	// Batches with at most MinRows rows skip both models.
	MinRows int
}

// DefaultConfig returns the default model parameters
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		NEstimators:   100,
		MaxSamples:    defaultMaxSample,
		NNeighbors:    20,
		Seed:          42,
		MinRows:       10,
	}
}

func (c Config) forest() ForestConfig {
	return ForestConfig{
		NEstimators:   c.NEstimators,
		MaxSamples:    c.MaxSamples,
		Contamination: c.Contamination,
		Seed:          c.Seed,
	}
}

// Result holds per-row verdicts and raw scores from both models.
type Result struct {
	IFOutlier  []bool
	IFScore    []float64
	LOFOutlier []bool
	LOFScore   []float64
	// Skipped is true when the batch was too small to fit.
	Skipped bool
}

func emptyResult(n int) Result {
	return Result{
		IFOutlier:  make([]bool, n),
		IFScore:    make([]float64, n),
		LOFOutlier: make([]bool, n),
		LOFScore:   make([]float64, n),
	}
}

// Apply copies the verdicts into the matching detection rows.
func (r Result) Apply(rows []models.DetectionRow) {
	for i := range rows {
		if i >= len(r.IFOutlier) {
			return
		}
		rows[i].MLAnomalyIF = r.IFOutlier[i]
		rows[i].MLScoreIF = r.IFScore[i]
		rows[i].MLAnomalyLOF = r.LOFOutlier[i]
		rows[i].MLScoreLOF = r.LOFScore[i]
	}
}

// Detector runs both outlier models over a batch.
type Detector struct {
	config Config
	model  *Model
}

// NewDetector returns a detector. With a nil model the forest and scaler are
// fitted fresh on every call; with a shared model, an unfitted handle is
// fitted once and a fitted one is scored against directly.
func NewDetector(config Config, model *Model) *Detector {
	return &Detector{config: config, model: model}
}

// Detect fits (or reuses) the isolation forest and always fits a fresh local
// outlier factor on the standardized eight-feature matrix.
func (d *Detector) Detect(rows []models.FeatureRow) Result {
	n := len(rows)
	res := emptyResult(n)
	if n <= d.config.MinRows {
		logger.Debug("Skipping outlier models: %d rows (need more than %d)", n, d.config.MinRows)
		res.Skipped = true
		return res
	}

	x := make([][]float64, n)
	for i, r := range rows {
		x[i] = features.ModelVector(r)
	}

	var scaled [][]float64
	if d.model != nil {
		scaled, res.IFScore, res.IFOutlier = d.model.scoreOrFit(x, d.config.forest())
	} else {
		scaler := FitScaler(x)
		scaled = scaler.Transform(x)
		forest := FitForest(scaled, d.config.forest())
		res.IFScore = forest.ScoreSamples(scaled)
		res.IFOutlier = forest.Predict(res.IFScore)
	}

	lof := LocalOutlierFactor(scaled, d.config.NNeighbors, d.config.Contamination)
	res.LOFOutlier = lof.Outlier
	res.LOFScore = lof.Factors()

	return res
}
