// Package monitor runs surveillance cycles: load inputs, analyze each
// series, persist the flagged days and report the riskiest ones.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/tradeguard/internal/engine"
	"github.com/rewired-gh/tradeguard/internal/ensemble"
	"github.com/rewired-gh/tradeguard/internal/ingest"
	"github.com/rewired-gh/tradeguard/internal/logger"
	"github.com/rewired-gh/tradeguard/internal/metrics"
	"github.com/rewired-gh/tradeguard/internal/models"
	"github.com/rewired-gh/tradeguard/internal/risk"
)

// Store persists analysis results and model blobs.
type Store interface {
	ensemble.ModelStore
	ReplaceAnomalies(symbol string, rows []models.ScoredRow) (int, error)
	RecordRun(summary models.BatchSummary, finishedAt time.Time) (string, error)
}

// Notifier delivers a per-series report.
type Notifier interface {
	SendReport(summary models.BatchSummary, top []models.ScoredRow) error
}

// Config represents the surveillance cycle configuration
type Config struct {
	Engine engine.Config
	TopN   int
	// Persist loads the shared model at start and saves it after fitting.
	Persist   bool
	ModelName string
	// Anomalies already reported within Cooldown are not reported again.
	Cooldown time.Duration
}

// DefaultConfig returns the default cycle configuration
func DefaultConfig() Config {
	return Config{
		Engine:    engine.DefaultConfig(),
		TopN:      10,
		ModelName: "isolation_forest",
		Cooldown:  24 * time.Hour,
	}
}

// Report is the outcome of analyzing one series.
type Report struct {
	Summary models.BatchSummary
	RunID   string
	Stored  int
	// Top holds the highest-risk anomalies not reported within the cooldown.
	Top []models.ScoredRow
}

// Monitor runs surveillance cycles against a store and optional notifier
type Monitor struct {
	store    Store
	notifier Notifier
	model    *ensemble.Model
	engine   *engine.Engine
	config   Config
	notified map[string]time.Time
	saved    bool
}

// New builds a monitor. With persistence enabled the stored model is loaded
// once here; a missing or unreadable model falls back to a fresh handle that
// the first analysis fits. notifier may be nil.
func New(store Store, notifier Notifier, config Config) *Monitor {
	m := &Monitor{
		store:    store,
		notifier: notifier,
		config:   config,
		notified: make(map[string]time.Time),
	}

	if config.Persist {
		model, err := ensemble.LoadModel(store, config.ModelName)
		if err != nil {
			if errors.Is(err, ensemble.ErrModelNotFound) {
				logger.Info("No stored model %q, fitting on first analysis", config.ModelName)
			} else {
				logger.Warn("Failed to load model %q: %v", config.ModelName, err)
				metrics.ObserveModelFallback("load")
			}
			model = ensemble.NewModel()
		} else {
			logger.Info("Loaded stored model %q", config.ModelName)
			m.saved = true
		}
		m.model = model
	}

	m.engine = engine.New(config.Engine, m.model)
	return m
}

// Model returns the shared model handle, or nil when persistence is off.
func (m *Monitor) Model() *ensemble.Model {
	return m.model
}

func notifiedKey(symbol string, date time.Time) string {
	return symbol + "|" + date.Format("2006-01-02")
}

// Process analyzes one series and persists its anomalies.
func (m *Monitor) Process(series models.Series) (Report, error) {
	rows, summary, err := m.engine.Analyze(series)
	if err != nil {
		return Report{}, fmt.Errorf("failed to analyze %s: %w", series.Symbol, err)
	}
	metrics.ObserveAnalysis(summary, rows)

	stored, err := m.store.ReplaceAnomalies(series.Symbol, rows)
	if err != nil {
		return Report{}, fmt.Errorf("failed to store anomalies for %s: %w", series.Symbol, err)
	}
	runID, err := m.store.RecordRun(summary, time.Now())
	if err != nil {
		logger.Warn("Failed to record run for %s: %v", series.Symbol, err)
	}

	logger.Info("%s: %d days, %d anomalies (%d high, %d medium), max risk %.1f",
		summary.Symbol, summary.TotalDays, summary.Anomalies, summary.HighRisk, summary.MediumRisk, summary.MaxRiskScore)

	return Report{
		Summary: summary,
		RunID:   runID,
		Stored:  stored,
		Top:     m.FilterRecentlySent(series.Symbol, risk.TopAnomalies(rows, m.config.TopN)),
	}, nil
}

// FilterRecentlySent drops rows already reported within the cooldown.
func (m *Monitor) FilterRecentlySent(symbol string, rows []models.ScoredRow) []models.ScoredRow {
	now := time.Now()
	var out []models.ScoredRow
	for _, r := range rows {
		if sentAt, ok := m.notified[notifiedKey(symbol, r.Date)]; ok && now.Sub(sentAt) < m.config.Cooldown {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RecordNotified marks rows as reported.
func (m *Monitor) RecordNotified(symbol string, rows []models.ScoredRow) {
	now := time.Now()
	for _, r := range rows {
		m.notified[notifiedKey(symbol, r.Date)] = now
	}
}

// RunCycle analyzes every input file. A failing file does not stop the
// others; the joined error reports all failures.
func (m *Monitor) RunCycle(ctx context.Context, paths []string, defaultSymbol string) error {
	startTime := time.Now()
	logger.Info("Starting surveillance cycle over %d inputs", len(paths))

	var errs []error
	analyzed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		datasets, err := ingest.LoadFile(path, defaultSymbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, ds := range datasets {
			for _, w := range ds.Warnings {
				logger.Warn("%s: %s", ds.Series.Symbol, w)
			}
			report, err := m.Process(ds.Series)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			analyzed++
			m.notify(report)
		}
	}

	m.checkpoint()
	logger.Info("Surveillance cycle completed in %v (%d series)", time.Since(startTime), analyzed)
	if len(errs) > 0 {
		metrics.FailuresTotal.Inc()
	}
	return errors.Join(errs...)
}

func (m *Monitor) notify(report Report) {
	if m.notifier == nil {
		return
	}
	if len(report.Top) == 0 {
		logger.Debug("Nothing new to report for %s", report.Summary.Symbol)
		return
	}
	if err := m.notifier.SendReport(report.Summary, report.Top); err != nil {
		logger.Error("Failed to send report for %s: %v", report.Summary.Symbol, err)
		return
	}
	m.RecordNotified(report.Summary.Symbol, report.Top)
}

// checkpoint saves a freshly fitted model once.
func (m *Monitor) checkpoint() {
	if m.model == nil || m.saved || !m.model.Fitted() {
		return
	}
	if err := m.model.Save(m.store, m.config.ModelName); err != nil {
		logger.Warn("Failed to save model %q: %v", m.config.ModelName, err)
		metrics.ObserveModelFallback("save")
		return
	}
	m.saved = true
	logger.Info("Saved model %q", m.config.ModelName)
}

// Shutdown persists any unsaved model state.
func (m *Monitor) Shutdown() {
	m.checkpoint()
}
