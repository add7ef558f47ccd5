package models

import (
	"time"
)

// Anomaly 异常检测命中的读数
//
// Score 越小越异常（负值表示离群）。
type Anomaly struct {
	EquipmentID string        `json:"equipment_id"`
	MetricName  string        `json:"metric_name"`
	Time        time.Time     `json:"time"`
	Value       float64       `json:"value"`
	Score       float64       `json:"score"`
	Severity    AlertSeverity `json:"severity"`
}

// ThresholdViolation 阈值超限的读数
type ThresholdViolation struct {
	EquipmentID string        `json:"equipment_id"`
	MetricName  string        `json:"metric_name"`
	MetricValue float64       `json:"metric_value"`
	MetricUnit  string        `json:"metric_unit,omitempty"`
	Threshold   float64       `json:"threshold"`
	Severity    AlertSeverity `json:"severity"`
	Time        time.Time     `json:"time"`
}

// 趋势方向
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
)

// TrendSummary 指标趋势分析结果
type TrendSummary struct {
	EquipmentID   string  `json:"equipment_id"`
	MetricName    string  `json:"metric_name"`
	PeriodDays    int     `json:"period_days"`
	BucketCount   int     `json:"bucket_count"`
	Direction     string  `json:"direction"` // increasing / decreasing
	Slope         float64 `json:"slope"`
	Volatility    float64 `json:"volatility"`
	OverallAvg    float64 `json:"overall_avg"`
	RecentAvg     float64 `json:"recent_avg"`
	PercentChange float64 `json:"percent_change"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
}

// 维护风险等级
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// 使用强度
const (
	UsageIntensityHigh   = "high"
	UsageIntensityNormal = "normal"
)

// MaintenanceRisk 设备维护风险评估结果
//
// DaysSinceCalibration 为 -1 表示设备从未校准过。
type MaintenanceRisk struct {
	EquipmentID          string `json:"equipment_id"`
	RiskScore            int    `json:"risk_score"` // 0-100
	RiskLevel            string `json:"risk_level"` // low / medium / high
	DaysSinceCalibration int    `json:"days_since_calibration"`
	AlertCount30d        int64  `json:"alert_count_30d"`
	ReadingCount30d      int64  `json:"reading_count_30d"`
	UsageIntensity       string `json:"usage_intensity"` // high / normal
	Recommendation       string `json:"recommendation"`
}
