// Package engine wires the surveillance stages into a single analysis call:
// feature extraction, statistical tests, outlier models and risk scoring.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/tradeguard/internal/detector"
	"github.com/rewired-gh/tradeguard/internal/ensemble"
	"github.com/rewired-gh/tradeguard/internal/features"
	"github.com/rewired-gh/tradeguard/internal/logger"
	"github.com/rewired-gh/tradeguard/internal/models"
	"github.com/rewired-gh/tradeguard/internal/risk"
)

// ErrEmptySeries is matched by the InputError returned for a series with no bars.
var ErrEmptySeries = models.ErrEmptySeries

// InputError rejects a series before any stage runs.
type InputError struct {
	// Index of the offending bar, or -1 when the series as a whole is invalid.
	Index  int
	Field  string
	Reason string
	err    error
}

func (e *InputError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: bar %d: %s %s", e.Index, e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return e.err
}

// Config represents the full analysis pipeline configuration
type Config struct {
	Detector detector.Config
	Ensemble ensemble.Config
	Weights  risk.Weights
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		Detector: detector.DefaultConfig(),
		Ensemble: ensemble.DefaultConfig(),
		Weights:  risk.DefaultWeights(),
	}
}

// Engine runs analyses. It holds no per-call state, so one Engine may serve
// concurrent Analyze calls; the only shared state is the optional model.
type Engine struct {
	stats    *detector.Statistical
	ensemble *ensemble.Detector
	scorer   *risk.Scorer
}

// New builds an engine. A nil model refits the isolation forest on every
// call; a shared model is fitted by the first call and reused afterwards.
func New(config Config, model *ensemble.Model) *Engine {
	return &Engine{
		stats:    detector.New(config.Detector),
		ensemble: ensemble.NewDetector(config.Ensemble, model),
		scorer:   risk.NewScorer(config.Weights),
	}
}

// Analyze scores every bar of series and returns the rows in input order
// with a summary. The input is not modified.
func (e *Engine) Analyze(series models.Series) ([]models.ScoredRow, models.BatchSummary, error) {
	if err := validate(series); err != nil {
		return nil, models.BatchSummary{}, err
	}
	start := time.Now()

	feats := features.Extract(series)
	detections := e.stats.Detect(feats)
	res := e.ensemble.Detect(feats)
	res.Apply(detections)
	scored := e.scorer.Score(detections)
	summary := risk.Summarize(series.Symbol, scored)

	logger.Debug("Analyzed %s: %d bars, %d anomalies, max risk %.2f (ml skipped: %v) in %v",
		series.Symbol, summary.TotalDays, summary.Anomalies, summary.MaxRiskScore, res.Skipped, time.Since(start))
	return scored, summary, nil
}

// Analyze runs a one-off analysis with a fresh fit.
func Analyze(series models.Series, config Config) ([]models.ScoredRow, models.BatchSummary, error) {
	return New(config, nil).Analyze(series)
}

func validate(series models.Series) error {
	if series.Len() == 0 {
		return &InputError{Index: -1, Reason: ErrEmptySeries.Error(), err: ErrEmptySeries}
	}
	for i := range series.Bars {
		if err := series.Bars[i].Validate(); err != nil {
			ie := &InputError{Index: i, Reason: err.Error(), err: err}
			var fe *models.FieldError
			if errors.As(err, &fe) {
				ie.Field = fe.Field
				ie.Reason = fe.Reason
			}
			return ie
		}
	}
	return nil
}
