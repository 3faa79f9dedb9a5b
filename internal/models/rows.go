package models

import "time"

// FeatureRow is a bar plus the indicators derived from the series up to and
// including that bar. Rolling statistics whose window is not yet full are 0.
type FeatureRow struct {
	Bar

	Returns     float64 `json:"returns"`
	LogReturns  float64 `json:"log_returns"`
	ReturnsMA5  float64 `json:"returns_ma_5"`
	ReturnsMA20 float64 `json:"returns_ma_20"`

	VolumeMA5    float64 `json:"volume_ma_5"`
	VolumeMA20   float64 `json:"volume_ma_20"`
	VolumeRatio  float64 `json:"volume_ratio"`
	VolumeChange float64 `json:"volume_change"`

	DailyRange      float64 `json:"daily_range"`
	Volatility5     float64 `json:"volatility_5"`
	Volatility20    float64 `json:"volatility_20"`
	VolatilityRatio float64 `json:"volatility_ratio"`

	SMA20        float64 `json:"sma_20"`
	SMA50        float64 `json:"sma_50"`
	EMA12        float64 `json:"ema_12"`
	EMA26        float64 `json:"ema_26"`
	PriceToSMA20 float64 `json:"price_to_sma20"`
	PriceToSMA50 float64 `json:"price_to_sma50"`
	MACD         float64 `json:"macd"`
	MACDSignal   float64 `json:"macd_signal"`

	PriceZScore   float64 `json:"price_zscore"`
	VolumeZScore  float64 `json:"volume_zscore"`
	ReturnsZScore float64 `json:"returns_zscore"`
}

// DetectionRow is a feature row annotated with every detector's verdict.
type DetectionRow struct {
	FeatureRow

	PriceAnomalyZ    bool `json:"price_anomaly_z"`
	VolumeAnomalyZ   bool `json:"volume_anomaly_z"`
	PriceAnomalyIQR  bool `json:"price_anomaly_iqr"`
	VolumeAnomalyIQR bool `json:"volume_anomaly_iqr"`
	PriceAnomalyMA   bool `json:"price_anomaly_ma"`
	VolumeAnomalyMA  bool `json:"volume_anomaly_ma"`

	MLAnomalyIF  bool    `json:"ml_anomaly_if"`
	MLAnomalyLOF bool    `json:"ml_anomaly_lof"`
	MLScoreIF    float64 `json:"ml_score_if"`
	MLScoreLOF   float64 `json:"ml_score_lof"`
}

// PriceFlagged reports whether any price-family statistical test fired.
func (d DetectionRow) PriceFlagged() bool {
	return d.PriceAnomalyZ || d.PriceAnomalyIQR || d.PriceAnomalyMA
}

// VolumeFlagged reports whether any volume-family statistical test fired.
func (d DetectionRow) VolumeFlagged() bool {
	return d.VolumeAnomalyZ || d.VolumeAnomalyIQR || d.VolumeAnomalyMA
}

// RiskLevel is the categorical bucket of a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Anomaly type labels, in the order they are joined.
const (
	LabelPrice     = "Price"
	LabelVolume    = "Volume"
	LabelMLPattern = "ML Pattern"
	LabelNormal    = "Normal"
)

// ScoredRow is a detection row with the fused risk assessment.
type ScoredRow struct {
	DetectionRow

	PriceScore      float64 `json:"price_score"`
	VolumeScore     float64 `json:"volume_score"`
	MLScore         float64 `json:"ml_score"`
	VolatilityScore float64 `json:"volatility_score"`

	RiskScore   float64   `json:"risk_score"`
	RiskLevel   RiskLevel `json:"risk_level"`
	AnomalyType string    `json:"anomaly_type"`
	IsAnomaly   bool      `json:"is_anomaly"`
}

// BatchSummary is a reduction over one analyzed series.
type BatchSummary struct {
	Symbol     string `json:"symbol"`
	TotalDays  int    `json:"total_days"`
	Anomalies  int    `json:"anomalies_found"`
	HighRisk   int    `json:"high_risk_days"`
	MediumRisk int    `json:"medium_risk_days"`
	LowRisk    int    `json:"low_risk_days"`

	AvgRiskScore float64 `json:"avg_risk_score"`
	MaxRiskScore float64 `json:"max_risk_score"`
	MinRiskScore float64 `json:"min_risk_score"`

	PriceAnomalies  int `json:"price_anomalies"`
	VolumeAnomalies int `json:"volume_anomalies"`
	MLAnomalies     int `json:"ml_anomalies"`
	LOFAnomalies    int `json:"lof_anomalies"`
}

// AnomalyRecord is the persisted form of a flagged day, keyed by (symbol, date).
type AnomalyRecord struct {
	ID           string
	Symbol       string
	Date         time.Time
	AnomalyType  string
	RiskScore    float64
	RiskLevel    RiskLevel
	PriceZScore  float64
	VolumeZScore float64
	MLScore      float64
	DetectedAt   time.Time
}
