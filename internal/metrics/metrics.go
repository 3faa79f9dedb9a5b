// Package metrics exposes Prometheus counters for surveillance runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/tradeguard/internal/models"
)

var (
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeguard_analyses_total", Help: "Series analyzed"},
		[]string{"symbol"},
	)
	AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeguard_anomalies_total", Help: "Days flagged as anomalous"},
		[]string{"symbol", "level"},
	)
	MaxRiskScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "tradeguard_max_risk_score", Help: "Highest risk score of the latest analysis"},
		[]string{"symbol"},
	)
	ModelFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeguard_model_fallbacks_total", Help: "Model store failures that fell back to a fresh fit"},
		[]string{"op"},
	)
	FailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradeguard_cycle_failures_total", Help: "Analysis cycles that failed"},
	)
)

func init() {
	prometheus.MustRegister(AnalysesTotal, AnomaliesTotal, MaxRiskScore, ModelFallbacksTotal, FailuresTotal)
}

// ObserveAnalysis records one finished analysis.
func ObserveAnalysis(summary models.BatchSummary, rows []models.ScoredRow) {
	AnalysesTotal.WithLabelValues(summary.Symbol).Inc()
	MaxRiskScore.WithLabelValues(summary.Symbol).Set(summary.MaxRiskScore)
	for _, r := range rows {
		if r.IsAnomaly {
			AnomaliesTotal.WithLabelValues(summary.Symbol, string(r.RiskLevel)).Inc()
		}
	}
}

// ObserveModelFallback records a model load or save that failed.
func ObserveModelFallback(op string) {
	ModelFallbacksTotal.WithLabelValues(op).Inc()
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
